package selection

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/catalog/pkg/handle"
)

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession("abc")
	assert.Equal(t, "abc", s.ID())
	assert.True(t, s.Snapshot().IsEmpty())

	s.Merge([]string{"a", "b"}, "bucket", "p/", nil)
	s.Merge([]string{"c"}, "bucket", "q/", nil)
	assert.Equal(t, 3, s.Snapshot().TotalCount())

	_, isEmpty := s.Remove("s3://bucket/q/", 0)
	assert.False(t, isEmpty)
	assert.False(t, s.Snapshot().Has("s3://bucket/q/"))

	s.RemoveByPrefix("s3://bucket/p/")
	assert.True(t, s.Snapshot().IsEmpty())

	s.Merge([]string{"x"}, "bucket", "", nil)
	s.Clear()
	assert.True(t, s.Snapshot().Equal(Empty()))
	assert.False(t, s.LastTouched().Before(s.CreatedAt()))
}

func TestSession_ClearIf(t *testing.T) {
	s := NewSession("abc")
	snap := s.Merge([]string{"a"}, "bucket", "p/", nil)

	s.Merge([]string{"b"}, "bucket", "q/", nil)
	assert.False(t, s.ClearIf(snap))
	assert.Equal(t, 2, s.Snapshot().TotalCount())

	assert.True(t, s.ClearIf(s.Snapshot()))
	assert.True(t, s.Snapshot().IsEmpty())
}

func TestSession_ConcurrentMerges(t *testing.T) {
	s := NewSession("abc")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Merge([]string{fmt.Sprintf("f%d", i)}, "bucket", fmt.Sprintf("p%d/", i), nil)
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 50, snap.Len())
	assert.Equal(t, 50, snap.TotalCount())
	assert.True(t, snap.IsSelected(handle.EncodePrefix("bucket", "p7/"), "f7"))
}
