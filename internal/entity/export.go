package entity

import (
	"encoding/json"
	"fmt"
)

// Export encodes every record in the store, including those pending
// deletion, as a wire envelope {"<kind>": [...]}.
func (a *Adapter[R]) Export() ([]byte, error) {
	all := a.store.All()
	items := make([]any, 0, len(all))
	for _, rec := range all {
		items = append(items, a.codec.Encode(rec))
	}
	data, err := json.MarshalIndent(map[string]any{a.Kind(): items}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s export: %w", a.Kind(), err)
	}
	return data, nil
}

// Import decodes a wire envelope and merges it into the store. Records from
// SourceServer arrive Clean; records from SourceLocal arrive PendingInsert so
// the next sync uploads them. Timestamps in the payload are preserved.
func (a *Adapter[R]) Import(data []byte, source Source, opts MergeOptions) (MergeStats, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return MergeStats{}, fmt.Errorf("decoding %s import: %w", a.Kind(), err)
	}
	records, err := a.decodeEnvelope(env)
	if err != nil {
		return MergeStats{}, err
	}
	return a.merge(records, source, opts), nil
}
