package listing

import (
	"github.com/3leaps/catalog/pkg/handle"
	"github.com/3leaps/catalog/pkg/output"
	"github.com/3leaps/catalog/pkg/selection"
)

// RowOptions decorate rows with selection and bookmark state. Both are
// optional.
type RowOptions struct {
	Selection  *selection.State
	Bookmarked func(handle.Location) bool
}

// Rows renders the page as output rows in page order.
func (p *Page) Rows(opts RowOptions) []output.RowRecord {
	rows := make([]output.RowRecord, 0, len(p.Items))
	for _, it := range p.Items {
		row := Match(it,
			func(pi ParentItem) output.RowRecord {
				return output.RowRecord{URI: pi.To.String()}
			},
			func(d DirItem) output.RowRecord {
				return output.RowRecord{URI: d.To.String()}
			},
			func(f FileItem) output.RowRecord {
				r := output.RowRecord{URI: f.To.String(), Size: f.Size, LastModified: f.LastModified}
				if opts.Bookmarked != nil {
					r.Bookmarked = opts.Bookmarked(f.To)
				}
				return r
			},
		)
		row.Prefix = string(p.Prefix)
		row.ID = it.ID()
		row.Kind = it.Kind().String()
		if opts.Selection != nil {
			row.Selected = opts.Selection.IsSelected(p.Prefix, it.ID())
		}
		rows = append(rows, row)
	}
	return rows
}
