// Copyright 2024 DriveFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache holds the caches the export layer keeps in front of the
// drive driver.
//
// Caches are owned by one layer and invalidated by path from that layer;
// the driver itself never signals them.
package cache

import "os"

// Disabled turns every cache into a pass-through.
// Set via DRIVEFS_CACHE=0. When true, AttrCache.Get always misses and
// AttrCache.Set is a no-op, which helps isolate cache-related bugs.
var Disabled = os.Getenv("DRIVEFS_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	Invalidate()
}
