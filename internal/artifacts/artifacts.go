// Package artifacts embeds the default files drivefs writes on first run.
package artifacts

import _ "embed"

// GlobalSettings is the default settings.yaml.
//
//go:embed global/settings.yaml
var GlobalSettings []byte
