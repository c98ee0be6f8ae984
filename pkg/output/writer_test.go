package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, line []byte, into any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	require.NoError(t, json.Unmarshal(record.Data, into))
	return record
}

func TestJSONLWriter_WriteRow(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "s3")

	mod := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	err := w.WriteRow(context.Background(), &RowRecord{
		Prefix:       "s3://bucket/pre%20%23%21%20fix/",
		ID:           "foo #! bar.txt",
		Kind:         "file",
		URI:          "s3://bucket/pre #! fix/foo #! bar.txt",
		Size:         42,
		LastModified: mod,
	})
	require.NoError(t, err)

	var row RowRecord
	record := decode(t, buf.Bytes(), &row)
	assert.Equal(t, TypeRow, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, "s3", record.Provider)
	assert.False(t, record.TS.IsZero())

	assert.Equal(t, "foo #! bar.txt", row.ID)
	assert.Equal(t, int64(42), row.Size)
	assert.Equal(t, mod, row.LastModified)
	assert.False(t, row.Bookmarked)
}

func TestRowRecord_OmitsZeroFields(t *testing.T) {
	data, err := json.Marshal(&RowRecord{Prefix: "s3://b/", ID: "..", Kind: "parent", URI: "s3://b/"})
	require.NoError(t, err)
	s := string(data)
	assert.NotContains(t, s, "size")
	assert.NotContains(t, s, "last_modified")
	assert.NotContains(t, s, "bookmarked")
}

func TestJSONLWriter_ItemAndSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "s3")
	ctx := context.Background()

	require.NoError(t, w.WriteItem(ctx, &ItemRecord{Action: "delete", URI: "s3://b/a", OK: true}))
	require.NoError(t, w.WriteItem(ctx, &ItemRecord{Action: "delete", URI: "s3://b/c", Code: "ACCESS_DENIED", Message: "denied"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{
		Action:        "delete",
		Total:         2,
		Succeeded:     1,
		Failed:        1,
		Message:       "Failed to delete 1 of 2 objects: c",
		Duration:      1500 * time.Millisecond,
		DurationHuman: "1.5s",
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var item ItemRecord
	rec := decode(t, []byte(lines[1]), &item)
	assert.Equal(t, TypeItem, rec.Type)
	assert.False(t, item.OK)
	assert.Equal(t, "ACCESS_DENIED", item.Code)

	var sum SummaryRecord
	rec = decode(t, []byte(lines[2]), &sum)
	assert.Equal(t, TypeSummary, rec.Type)
	assert.Equal(t, 1500*time.Millisecond, sum.Duration)
	assert.Equal(t, "Failed to delete 1 of 2 objects: c", sum.Message)
}

func TestJSONLWriter_HandleBookmarkError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "file")
	ctx := context.Background()

	require.NoError(t, w.WriteHandle(ctx, &HandleRecord{Prefix: "s3://b/p/", Bucket: "b", Key: "p/x"}))
	require.NoError(t, w.WriteBookmark(ctx, &BookmarkRecord{Group: "main", URI: "s3://b/p/x"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: "NOT_FOUND", Message: "missing", URI: "s3://b/p/"}))

	types := []string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var r Record
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		types = append(types, r.Type)
	}
	assert.Equal(t, []string{TypeHandle, TypeBookmark, TypeError}, types)
	assert.Equal(t, map[string]int{TypeHandle: 1, TypeBookmark: 1, TypeError: 1}, w.Counts())
}

func TestJSONLWriter_Timestamp(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "s3")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	require.NoError(t, w.WriteRow(context.Background(), &RowRecord{ID: "a"}))
	var row RowRecord
	rec := decode(t, buf.Bytes(), &row)
	assert.True(t, fixed.Equal(rec.TS))
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "s3")
	require.NoError(t, w.Close())

	err := w.WriteRow(context.Background(), &RowRecord{ID: "a"})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "s3")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteHandle(context.Background(), &HandleRecord{Bucket: "b", Key: strings.Repeat("k", 100)})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 50)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)))
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "s3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteRow(ctx, &RowRecord{ID: "a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 8 {
		p = p[:8]
	}
	return s.buf.Write(p)
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestJSONLWriter_WriteFailures(t *testing.T) {
	err := NewJSONLWriter(failingWriter{}, "j", "s3").WriteRow(context.Background(), &RowRecord{ID: "a"})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
	assert.Contains(t, err.Error(), "disk full")

	err = NewJSONLWriter(zeroWriter{}, "j", "s3").WriteRow(context.Background(), &RowRecord{ID: "a"})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestJSONLWriter_ShortWritesComplete(t *testing.T) {
	sw := &shortWriter{}
	w := NewJSONLWriter(sw, "j", "s3")
	require.NoError(t, w.WriteRow(context.Background(), &RowRecord{ID: "a-long-row-id"}))

	out := sw.buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.True(t, json.Valid([]byte(strings.TrimSpace(out))))
}

func TestJSONLWriter_MarshalError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "j", "s3")
	err := w.WriteError(context.Background(), &ErrorRecord{Code: "X", Details: make(chan int)})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "marshal_data", we.Op)
}
