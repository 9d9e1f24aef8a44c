package models

import "strings"

// KV is a single ordered key/value annotation.
type KV struct {
	Key   string `json:"k" toon:"k"`
	Value string `json:"v" toon:"v"`
}

// Attrs is an ordered list of key/value annotations. Order is significant
// and preserved through serialization.
type Attrs []KV

// Get returns the first value stored under key.
func (a Attrs) Get(key string) (string, bool) {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Value returns the value stored under key, or "" when absent.
func (a Attrs) Value(key string) string {
	v, _ := a.Get(key)
	return v
}

// With returns a copy of a with key set to value. An existing key is
// replaced in place; a new key is appended.
func (a Attrs) With(key, value string) Attrs {
	out := make(Attrs, len(a), len(a)+1)
	copy(out, a)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, KV{Key: key, Value: value})
}

// Compare orders attribute lists lexicographically, pair by pair.
func (a Attrs) Compare(other Attrs) int {
	n := min(len(a), len(other))
	for i := 0; i < n; i++ {
		if c := strings.Compare(a[i].Key, other[i].Key); c != 0 {
			return c
		}
		if c := strings.Compare(a[i].Value, other[i].Value); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(other):
		return -1
	case len(a) > len(other):
		return 1
	}
	return 0
}

// String renders the attributes as "k=v,k=v".
func (a Attrs) String() string {
	var sb strings.Builder
	for i, kv := range a {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(kv.Key)
		sb.WriteByte('=')
		sb.WriteString(kv.Value)
	}
	return sb.String()
}
