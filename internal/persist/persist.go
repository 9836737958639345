// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package persist stores the user's must-reply marker set.
//
// Markers are owned by the presentation layer and handed to rendering
// as a plain set of message identifiers; the triage engine itself
// keeps no state.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var createTableSQL = []string{
	// The must_reply table holds the identifiers of messages the
	// user flagged for follow-up.
	//
	// Field: message_id
	//
	//   The provider's permanent message identifier, as returned
	//   by the listing and detail calls.  Markers survive fetch
	//   cycles even though message records themselves are
	//   reconstructed every cycle.
	//
	// Field: marked_at
	//
	//   Unix timestamp of when the marker was set.
	`
CREATE TABLE IF NOT EXISTS must_reply (
message_id TEXT NOT NULL PRIMARY KEY,
marked_at INTEGER NOT NULL
);`,
}

type DB struct {
	db *sql.DB
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  The default of 5
	// seconds is too short in practice; go with 5 minutes.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from the given path", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q", path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the database schema", path)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createTableSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "while executing %q", stmt)
		}
	}
	return nil
}

// Mark flags a message for follow-up.  Marking an already marked
// message is a no-op.
func (db *DB) Mark(ctx context.Context, messageID string) error {
	const stmt = `INSERT OR IGNORE INTO must_reply (message_id, marked_at) VALUES ($1, $2)`
	if _, err := db.db.ExecContext(ctx, stmt, messageID, time.Now().Unix()); err != nil {
		return errors.Wrap(err, "db insert failed for must-reply marker")
	}
	return nil
}

// Unmark removes a follow-up flag.  Unknown identifiers are ignored.
func (db *DB) Unmark(ctx context.Context, messageID string) error {
	const stmt = `DELETE FROM must_reply WHERE message_id = $1`
	if _, err := db.db.ExecContext(ctx, stmt, messageID); err != nil {
		return errors.Wrap(err, "db delete failed for must-reply marker")
	}
	return nil
}

// Toggle flips the marker for a message and reports the new state.
func (db *DB) Toggle(ctx context.Context, messageID string) (bool, error) {
	marked, err := db.marked(ctx, messageID)
	if err != nil {
		return false, err
	}
	if marked {
		return false, db.Unmark(ctx, messageID)
	}
	return true, db.Mark(ctx, messageID)
}

func (db *DB) marked(ctx context.Context, messageID string) (bool, error) {
	const q = `SELECT 1 FROM must_reply WHERE message_id = $1`
	var one int
	err := db.db.QueryRowContext(ctx, q, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "db query failed for must-reply marker")
	}
	return true, nil
}

// All returns the marker set, keyed by message identifier.
func (db *DB) All(ctx context.Context) (map[string]bool, error) {
	const q = `SELECT message_id FROM must_reply`
	rows, err := db.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed listing must-reply markers")
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "db scan failed listing must-reply markers")
		}
		set[id] = true
	}
	return set, rows.Err()
}
