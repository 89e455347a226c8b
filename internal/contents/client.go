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

// Package contents is the client side of the remote contents API. Every
// method performs exactly one blocking round-trip against
// <baseURL>api<path>?m=<op>[&args=<arg>] and is never retried here.
package contents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"drivefs/internal/common"
)

// RequestIDHeader carries a per-request id the service can log.
const RequestIDHeader = "X-Drivefs-Request"

// Remote operation selectors (the m query parameter).
const (
	OpLookup  = "lookup"
	OpGetMode = "getmode"
	OpMknod   = "mknod"
	OpRename  = "rename"
	OpReaddir = "readdir"
	OpRmdir   = "rmdir"
	OpGet     = "get"
	OpPut     = "put"
	OpGetattr = "getattr"
)

// Doer performs one blocking HTTP exchange. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL of the contents service; "api" is appended directly, so a
	// trailing slash is added when missing.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient Doer

	// Errnos turns faults into host errors. Defaults to common.SyscallErrnos.
	Errnos common.ErrnoFactory
}

// Client talks to the remote contents service.
type Client struct {
	baseURL string
	token   string
	http    Doer
	errnos  common.ErrnoFactory
}

// New creates a client. It fails only when the base URL cannot be parsed.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	c := &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    cfg.HTTPClient,
		errnos:  cfg.Errnos,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.errnos == nil {
		c.errnos = common.SyscallErrnos{}
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// endpoint builds <baseURL>api<path>?m=<op>[&args=<arg>].
func (c *Client) endpoint(path, op string, args *string) string {
	query := "?m=" + url.QueryEscape(op)
	if args != nil {
		query += "&args=" + url.QueryEscape(*args)
	}
	escaped := (&url.URL{Path: path}).EscapedPath()
	return c.baseURL + "api" + escaped + query
}

// request performs one round-trip and returns the response body. Transport
// failures and any status >= 400 collapse to EINVAL.
func (c *Client) request(method, path, op string, args *string, body io.Reader) ([]byte, error) {
	target := c.endpoint(path, op, args)
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		log.Warnf("[Contents] build %s %s: %v", method, target, err)
		return nil, c.errnos.Errno(syscall.EINVAL)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("[Contents] %s %s [%s]: %v", method, target, reqID, err)
		return nil, c.errnos.Errno(syscall.EINVAL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warnf("[Contents] read %s %s [%s]: %v", method, target, reqID, err)
		return nil, c.errnos.Errno(syscall.EINVAL)
	}
	log.Debugf("[Contents] %s %s [%s] -> %d (%d bytes)", method, target, reqID, resp.StatusCode, len(data))

	if resp.StatusCode >= 400 {
		return nil, c.errnos.Errno(syscall.EINVAL)
	}
	return data, nil
}

// decode unmarshals a JSON body; a malformed body is EINVAL like any other
// failed round-trip.
func (c *Client) decode(op, path string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		log.Warnf("[Contents] %s %s: bad response: %v", op, path, err)
		return c.errnos.Errno(syscall.EINVAL)
	}
	return nil
}

func (c *Client) get(path, op string, args *string) ([]byte, error) {
	return c.request(http.MethodGet, path, op, args, nil)
}

// Lookup resolves a path. Absence is reported as OK=false, not as an error.
func (c *Client) Lookup(path string) (LookupResult, error) {
	body, err := c.get(path, OpLookup, nil)
	if err != nil {
		return LookupResult{}, err
	}
	var res LookupResult
	if err := c.decode(OpLookup, path, body, &res); err != nil {
		return LookupResult{}, err
	}
	return res, nil
}

// GetMode returns the remote mode bits of a path known to exist.
func (c *Client) GetMode(path string) (uint32, error) {
	body, err := c.get(path, OpGetMode, nil)
	if err != nil {
		return 0, err
	}
	mode, err := parseMode(body)
	if err != nil {
		log.Warnf("[Contents] getmode %s: %v", path, err)
		return 0, c.errnos.Errno(syscall.EINVAL)
	}
	return mode, nil
}

// Mknod asks the service to create a directory or an empty file at path.
func (c *Client) Mknod(path string, mode uint32) error {
	args := strconv.FormatUint(uint64(mode), 10)
	_, err := c.get(path, OpMknod, &args)
	return err
}

// Rename moves oldPath to newPath.
func (c *Client) Rename(oldPath, newPath string) error {
	_, err := c.get(oldPath, OpRename, &newPath)
	return err
}

// Readdir lists the children of path followed by "." and "..".
func (c *Client) Readdir(path string) ([]string, error) {
	body, err := c.get(path, OpReaddir, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := c.decode(OpReaddir, path, body, &names); err != nil {
		return nil, err
	}
	return append(names, ".", ".."), nil
}

// Rmdir removes path. The service does not distinguish files from
// directories at this layer.
func (c *Client) Rmdir(path string) error {
	_, err := c.get(path, OpRmdir, nil)
	return err
}

// Get fetches the whole content of path. An unknown or missing format is ENOENT.
func (c *Client) Get(path string) (*File, error) {
	body, err := c.get(path, OpGet, nil)
	if err != nil {
		return nil, err
	}
	var res contentResponse
	if err := c.decode(OpGet, path, body, &res); err != nil {
		return nil, err
	}
	file, err := DecodeFile(res.Content, res.Format)
	if err != nil {
		log.Debugf("[Contents] get %s: %v", path, err)
		if errors.Is(err, common.ErrBadFormat) {
			return nil, c.errnos.Errno(syscall.ENOENT)
		}
		return nil, c.errnos.Errno(syscall.EINVAL)
	}
	return file, nil
}

// Put stores file at path, telling the service which format was used.
func (c *Client) Put(path string, file *File) error {
	payload, err := file.Encode()
	if err != nil {
		log.Warnf("[Contents] put %s: %v", path, err)
		return c.errnos.Errno(syscall.EINVAL)
	}
	format := string(file.Format)
	_, err = c.request(http.MethodPut, path, OpPut, &format, strings.NewReader(payload))
	return err
}

// Getattr fetches the stat record of path with timestamps normalized.
func (c *Client) Getattr(path string) (*Attributes, error) {
	body, err := c.get(path, OpGetattr, nil)
	if err != nil {
		return nil, err
	}
	var wire wireAttributes
	if err := c.decode(OpGetattr, path, body, &wire); err != nil {
		return nil, err
	}
	return wire.normalize(), nil
}
