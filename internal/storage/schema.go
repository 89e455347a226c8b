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

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const SchemaVersion = "1"

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// EnvBusyTimeout overrides the busy_timeout for the contents database
const EnvBusyTimeout = "DRIVEFS_BUSY_TIMEOUT"

// GetBusyTimeout returns the busy_timeout to use.
// Priority: env > default
func GetBusyTimeout() int {
	if val := os.Getenv(EnvBusyTimeout); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
			return timeout
		}
	}
	return DefaultBusyTimeout
}

// BuildDSN builds the SQLite DSN with the configured busy_timeout
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, GetBusyTimeout())
}

// File mode constants (POSIX)
const (
	ModeDir  = 0040000 // Directory
	ModeFile = 0100000 // Regular file
	ModeMask = 0170000 // Type mask
)

// Modes entries are created with when the caller does not say otherwise
const (
	DefaultDirMode  = ModeDir | 0777  // rwxrwxrwx
	DefaultFileMode = ModeFile | 0666 // rw-rw-rw-
)

// RootPath is the path of the root entry
const RootPath = "/"

const contentsSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
    path TEXT PRIMARY KEY,
    parent TEXT NOT NULL,
    mode INTEGER NOT NULL,
    format TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    atime INTEGER NOT NULL,
    mtime INTEGER NOT NULL,
    ctime INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent);
`

const initContents = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('type', 'contents');
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
INSERT OR IGNORE INTO entries (path, parent, mode, atime, mtime, ctime) VALUES ('/', '', ?, ?, ?, ?);
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		// Count placeholders in this statement
		placeholders := strings.Count(stmt, "?")
		if argIdx+placeholders > len(args) {
			return fmt.Errorf("statement wants %d args, %d left: %s", placeholders, len(args)-argIdx, stmt)
		}
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip comments and empty lines
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	// Handle any remaining content
	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout first so journal_mode=WAL waits for locks.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA cache_size = -8000"); err != nil {
		return fmt.Errorf("failed to set cache_size: %w", err)
	}
	return nil
}
