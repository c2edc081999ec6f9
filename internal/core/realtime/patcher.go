package realtime

import "github.com/greenlawn/marketplace-session/internal/core/domain"

// Collection is an ordered sequence of rows keyed by id.
type Collection []domain.Row

// IndexOf returns the position of the row with the given id, or -1.
func (c Collection) IndexOf(id string) int {
	for i, r := range c {
		if rid, ok := r.ID(); ok && rid == id {
			return i
		}
	}
	return -1
}

// Clone copies the slice; rows are shared.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	copy(out, c)
	return out
}

// Apply returns the collection that results from ev. The input is never
// modified.
//
//   - INSERT of a known id is treated as UPDATE, otherwise the row is appended.
//   - UPDATE shallow-merges the new row over the existing one; fields absent
//     from the event are kept. An UPDATE for an unknown id is appended.
//   - DELETE removes the row; deleting an unknown id is a no-op.
func Apply(c Collection, ev domain.ChangeEvent) Collection {
	id, ok := ev.Key()
	if !ok {
		return c
	}
	idx := c.IndexOf(id)

	switch ev.EventType {
	case domain.EventInsert, domain.EventUpdate:
		out := c.Clone()
		if idx < 0 {
			return append(out, ev.NewRow.Clone())
		}
		out[idx] = merge(c[idx], ev.NewRow)
		return out
	case domain.EventDelete:
		if idx < 0 {
			return c
		}
		out := make(Collection, 0, len(c)-1)
		out = append(out, c[:idx]...)
		return append(out, c[idx+1:]...)
	}
	return c
}

func merge(existing, delta domain.Row) domain.Row {
	out := existing.Clone()
	if out == nil {
		out = make(domain.Row, len(delta))
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}
