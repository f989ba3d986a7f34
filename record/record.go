package record

import (
	"cmp"
	"encoding/json"
)

// Entry is a single key/value pair. Value holds an already encoded JSON
// document and is never interpreted by the store.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Key returns a lookup target for k. Only the key takes part in comparisons
// made by ByKey.
func Key(k string) *Entry {
	return &Entry{Key: k}
}

// Compare defines the order of entries. It returns a negative number when
// a sorts before b, zero when they are equal and a positive number
// otherwise. A Compare must be a strict total order over distinct entries.
type Compare func(a, b Entry) int

// ByKey orders entries by the bytes of their keys.
func ByKey(a, b Entry) int {
	return cmp.Compare(a.Key, b.Key)
}
