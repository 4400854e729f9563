package primary

import (
	"sort"

	"github.com/vitae/vitae/backend/go-services/internal/records"
)

// Order is the sort applied to a listed collection.
type Order struct {
	Field string
	Desc  bool
}

// Sort orders list in place by the field. The sort is stable so ties keep
// the order the store returned them in.
func (o Order) Sort(list []records.Record) {
	sort.SliceStable(list, func(i, j int) bool {
		c := records.Compare(list[i][o.Field], list[j][o.Field])
		if o.Desc {
			return c > 0
		}
		return c < 0
	})
}
