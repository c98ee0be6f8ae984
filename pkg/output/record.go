// Package output writes catalog results as JSONL.
//
// Every line is a self-contained Record envelope whose Type says how to read
// the Data payload: listing rows, projected handles, per-item bulk outcomes,
// bookmarks, errors and a closing summary.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types follow the pattern catalog.<type>.v<version>.
const (
	TypeRow      = "catalog.row.v1"
	TypeHandle   = "catalog.handle.v1"
	TypeItem     = "catalog.item.v1"
	TypeBookmark = "catalog.bookmark.v1"
	TypeError    = "catalog.error.v1"
	TypeSummary  = "catalog.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "catalog.row.v1").
	Type string `json:"type"`

	// TS is when the record was created.
	TS time.Time `json:"ts"`

	// JobID correlates the records of one command run.
	JobID string `json:"job_id"`

	// Provider identifies the storage provider (e.g., "s3", "file").
	Provider string `json:"provider"`

	Data json.RawMessage `json:"data"`
}

// RowRecord is one listing grid row.
type RowRecord struct {
	// Prefix is the encoded prefix the row was listed under.
	Prefix string `json:"prefix"`

	// ID is the row identifier relative to Prefix.
	ID string `json:"id"`

	// Kind is "parent", "dir" or "file".
	Kind string `json:"kind"`

	// URI is the unencoded s3:// location the row points at.
	URI string `json:"uri"`

	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`

	// Selected is set when the row is in the active selection.
	Selected bool `json:"selected,omitempty"`

	// Bookmarked is set when the row is in the active bookmark group.
	Bookmarked bool `json:"bookmarked,omitempty"`
}

// HandleRecord is one projected selection handle.
type HandleRecord struct {
	Prefix  string `json:"prefix"`
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Version string `json:"version,omitempty"`
}

// ItemRecord is the outcome of a bulk action for one handle.
type ItemRecord struct {
	Action string `json:"action"`
	URI    string `json:"uri"`
	OK     bool   `json:"ok"`

	// Code and Message are set when OK is false.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// BookmarkRecord is one stored bookmark.
type BookmarkRecord struct {
	Group     string    `json:"group"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// ErrorRecord is emitted instead of failing a whole command when one part
// of it fails.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// URI is the location related to this error, if applicable.
	URI string `json:"uri,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// SummaryRecord closes a bulk action.
type SummaryRecord struct {
	Action    string `json:"action"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`

	// Markers counts prefix markers removed by a delete. They are not
	// part of Total.
	Markers int `json:"markers,omitempty"`

	// Message is the user-facing aggregate summary.
	Message string `json:"message"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
