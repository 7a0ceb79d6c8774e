// Package gateway is the document store the rest of the service reads and
// writes through: keyed JSON records grouped in collections, equality
// queries on a single field, and push notification of changes per query.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

const (
	Users        = "users"
	Appointments = "appointments"
)

var ErrInvalidQuery = errors.New("gateway: collection and field required")

// Query matches records in Collection whose top-level Field equals Value.
type Query struct {
	Collection string
	Field      string
	Value      string
}

func (q Query) Validate() error {
	if q.Collection == "" || q.Field == "" {
		return ErrInvalidQuery
	}
	return nil
}

func (q Query) String() string {
	return fmt.Sprintf("%s[%s=%s]", q.Collection, q.Field, q.Value)
}

// Subscription is a live query. Unsubscribe is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Gateway is implemented by every backing store.
type Gateway interface {
	Get(ctx context.Context, collection, key string) (Snapshot, error)
	Query(ctx context.Context, q Query) (Snapshot, error)
	// Subscribe delivers a full snapshot once and again after every change
	// to the collection. fn is never called concurrently with itself.
	Subscribe(ctx context.Context, q Query, fn func(Snapshot)) (Subscription, error)
	Set(ctx context.Context, collection, key string, record any) error
}

// Snapshot is the map-of-records view of a query result. A zero Snapshot
// means "no data" and behaves like an empty one.
type Snapshot struct {
	values map[string]json.RawMessage
}

func NewSnapshot(values map[string]json.RawMessage) Snapshot {
	return Snapshot{values: values}
}

func (s Snapshot) Exists() bool { return len(s.values) > 0 }

func (s Snapshot) Len() int { return len(s.values) }

// Keys returns record keys in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Snapshot) Raw(key string) (json.RawMessage, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Decode unmarshals every record in key order. Records that fail to decode
// are reported through skip and left out.
func Decode[T any](s Snapshot, skip func(key string, err error)) []T {
	out := make([]T, 0, len(s.values))
	for _, k := range s.Keys() {
		var v T
		if err := json.Unmarshal(s.values[k], &v); err != nil {
			if skip != nil {
				skip(k, err)
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

// Encode turns a record into its stored JSON form.
func Encode(record any) (json.RawMessage, error) {
	if raw, ok := record.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode record: %w", err)
	}
	return b, nil
}

// FieldEquals reports whether the top-level string field of raw equals value.
// Backends that cannot push the filter down use it.
func FieldEquals(raw json.RawMessage, field, value string) bool {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	v, ok := doc[field]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == value
}
