// Package listing turns delimiter listings into grid rows and grid selection
// events into selection reducers.
package listing

import (
	"time"

	"github.com/3leaps/catalog/pkg/handle"
)

// Kind discriminates the Item variants.
type Kind int

const (
	KindParent Kind = iota
	KindDir
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindParent:
		return "parent"
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Item is one row of a listing grid. The set of implementations is closed:
// ParentItem, DirItem and FileItem.
type Item interface {
	// ID is the row identifier relative to the listed prefix.
	ID() string
	Kind() Kind
	item()
}

// ParentItem is the ".." navigation row.
type ParentItem struct {
	// To is the parent prefix.
	To handle.Location
}

// DirItem is a child prefix.
type DirItem struct {
	// Name is the child name with its trailing "/".
	Name string
	To   handle.Location
}

// FileItem is an object directly under the listed prefix.
type FileItem struct {
	Name         string
	To           handle.Location
	Size         int64
	LastModified time.Time
}

func (ParentItem) ID() string { return handle.ParentRow }
func (ParentItem) Kind() Kind { return KindParent }
func (ParentItem) item()      {}
func (d DirItem) ID() string  { return d.Name }
func (DirItem) Kind() Kind    { return KindDir }
func (DirItem) item()         {}
func (f FileItem) ID() string { return f.Name }
func (FileItem) Kind() Kind   { return KindFile }
func (FileItem) item()        {}

// Match dispatches on the variant of it. Every case must be supplied.
func Match[T any](it Item, parent func(ParentItem) T, dir func(DirItem) T, file func(FileItem) T) T {
	switch v := it.(type) {
	case ParentItem:
		return parent(v)
	case DirItem:
		return dir(v)
	case FileItem:
		return file(v)
	default:
		panic("listing: unknown item type")
	}
}
