package entity

import "github.com/njoerd114/todosync/internal/store"

// Partition splits refs into ceil(len(refs)/limit) consecutive batches of at
// most limit refs each, preserving order. A limit of zero or less yields a
// single batch. The batches share refs' backing array but cannot grow into
// one another.
func Partition(refs []store.Ref, limit int) [][]store.Ref {
	if len(refs) == 0 {
		return nil
	}
	if limit <= 0 || len(refs) <= limit {
		return [][]store.Ref{refs[:len(refs):len(refs)]}
	}

	out := make([][]store.Ref, 0, (len(refs)+limit-1)/limit)
	for start := 0; start < len(refs); start += limit {
		end := min(start+limit, len(refs))
		out = append(out, refs[start:end:end])
	}
	return out
}
