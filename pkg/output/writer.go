package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"sync"
	"time"
)

// Writer emits catalog records. Implementations are safe for concurrent use
// and write each record as one complete line.
type Writer interface {
	WriteRow(ctx context.Context, row *RowRecord) error
	WriteHandle(ctx context.Context, h *HandleRecord) error
	WriteItem(ctx context.Context, item *ItemRecord) error
	WriteBookmark(ctx context.Context, b *BookmarkRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	Close() error
}

var _ Writer = (*JSONLWriter)(nil)

// JSONLWriter writes Record envelopes as newline-delimited JSON.
type JSONLWriter struct {
	mu     sync.Mutex
	out    io.Writer
	line   bytes.Buffer
	base   Record
	now    func() time.Time
	counts map[string]int
	closed bool
}

// NewJSONLWriter returns a writer stamping every record with jobID and
// provider.
func NewJSONLWriter(w io.Writer, jobID, provider string) *JSONLWriter {
	return &JSONLWriter{
		out:    w,
		base:   Record{JobID: jobID, Provider: provider},
		now:    func() time.Time { return time.Now().UTC() },
		counts: make(map[string]int),
	}
}

func (jw *JSONLWriter) WriteRow(ctx context.Context, row *RowRecord) error {
	return jw.write(ctx, TypeRow, row)
}

func (jw *JSONLWriter) WriteHandle(ctx context.Context, h *HandleRecord) error {
	return jw.write(ctx, TypeHandle, h)
}

func (jw *JSONLWriter) WriteItem(ctx context.Context, item *ItemRecord) error {
	return jw.write(ctx, TypeItem, item)
}

func (jw *JSONLWriter) WriteBookmark(ctx context.Context, b *BookmarkRecord) error {
	return jw.write(ctx, TypeBookmark, b)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.write(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.write(ctx, TypeSummary, sum)
}

// Counts returns how many records of each type were written.
func (jw *JSONLWriter) Counts() map[string]int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return maps.Clone(jw.counts)
}

// Close stops further writes. The underlying io.Writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) write(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := jw.base
	rec.Type = recordType
	rec.TS = jw.now()
	rec.Data = payload

	jw.line.Reset()
	// Encode appends the trailing newline.
	if err := json.NewEncoder(&jw.line).Encode(rec); err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeFull(jw.out, jw.line.Bytes()); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	jw.counts[recordType]++
	return nil
}

// writeFull retries short writes so a record is never truncated mid-line.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
