package bulk

import (
	"errors"
	"fmt"

	"github.com/3leaps/catalog/pkg/handle"
)

var (
	// ErrEmptySelection is returned when there is nothing to act on.
	ErrEmptySelection = errors.New("selection is empty")

	// ErrMixedBuckets is returned when a zip download spans buckets.
	ErrMixedBuckets = errors.New("selection spans more than one bucket")
)

// DownloadRequest is the body of a zip-download request.
type DownloadRequest struct {
	Bucket string         `json:"bucket"`
	Files  []DownloadFile `json:"files"`
}

// DownloadFile is one entry of a DownloadRequest. Prefix keys (ending in "/")
// ask the download service to include everything beneath them.
type DownloadFile struct {
	Key     string `json:"key"`
	Version string `json:"version,omitempty"`
}

// BuildDownloadRequest turns a flat handle list into a zip-download request.
// An empty bucket takes the bucket of the first handle.
func BuildDownloadRequest(bucket string, handles []handle.Location) (*DownloadRequest, error) {
	if len(handles) == 0 {
		return nil, ErrEmptySelection
	}
	if bucket == "" {
		bucket = handles[0].Bucket
	}

	req := &DownloadRequest{Bucket: bucket, Files: make([]DownloadFile, 0, len(handles))}
	for _, h := range handles {
		if h.Bucket != bucket {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedBuckets, bucket, h.Bucket)
		}
		req.Files = append(req.Files, DownloadFile{Key: h.Key, Version: h.Version})
	}
	return req, nil
}
