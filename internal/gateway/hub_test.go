package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]map[string]json.RawMessage
	fail    atomic.Bool
	calls   atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]map[string]json.RawMessage)}
}

func (f *fakeStore) put(collection, key string, v any) {
	raw, _ := Encode(v)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[collection] == nil {
		f.records[collection] = make(map[string]json.RawMessage)
	}
	f.records[collection][key] = raw
}

func (f *fakeStore) fetch(_ context.Context, q Query) (Snapshot, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return Snapshot{}, errors.New("backend down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for k, raw := range f.records[q.Collection] {
		if FieldEquals(raw, q.Field, q.Value) {
			out[k] = raw
		}
	}
	return NewSnapshot(out), nil
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) add(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func TestHubDeliversInitialAndChangedSnapshots(t *testing.T) {
	store := newFakeStore()
	store.put(Users, "d1", map[string]string{"id": "d1", "role": "Doctor"})
	hub := NewHub(store.fetch, nil)

	rec := &recorder{}
	sub, err := hub.Subscribe(context.Background(), Query{Collection: Users, Field: "role", Value: "Doctor"}, rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"d1"}, rec.last().Keys())

	store.put(Users, "d2", map[string]string{"id": "d2", "role": "Doctor"})
	store.put(Users, "p1", map[string]string{"id": "p1", "role": "Patient"})
	hub.Notify(Users)

	require.Eventually(t, func() bool {
		return rec.count() >= 2 && rec.last().Len() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"d1", "d2"}, rec.last().Keys())
}

func TestHubIgnoresOtherCollections(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store.fetch, nil)

	rec := &recorder{}
	sub, err := hub.Subscribe(context.Background(), Query{Collection: Appointments, Field: "doctorId", Value: "d1"}, rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(Users)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store.fetch, nil)

	rec := &recorder{}
	sub, err := hub.Subscribe(context.Background(), Query{Collection: Users, Field: "role", Value: "Doctor"}, rec.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, hub.Active())

	hub.Notify(Users)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestHubUnsubscribeWaitsForRunningCallback(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store.fetch, nil)

	var (
		calls        atomic.Int32
		unsubscribed atomic.Bool
		late         atomic.Bool
		entered      = make(chan struct{})
		release      = make(chan struct{})
	)
	sub, err := hub.Subscribe(context.Background(), Query{Collection: Users, Field: "role", Value: "Doctor"}, func(Snapshot) {
		if unsubscribed.Load() {
			late.Store(true)
		}
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	require.NoError(t, err)
	<-entered
	hub.Notify(Users)

	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		unsubscribed.Store(true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Unsubscribe returned while a callback was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe never returned")
	}

	hub.Notify(Users)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, late.Load())
	assert.Equal(t, 0, hub.Active())
}

func TestHubContextCancelReleasesSubscription(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store.fetch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := hub.Subscribe(ctx, Query{Collection: Users, Field: "role", Value: "Doctor"}, func(Snapshot) {})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Active())

	cancel()
	require.Eventually(t, func() bool { return hub.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubReadErrorKeepsPriorState(t *testing.T) {
	store := newFakeStore()
	store.put(Users, "d1", map[string]string{"id": "d1", "role": "Doctor"})
	hub := NewHub(store.fetch, nil)

	rec := &recorder{}
	sub, err := hub.Subscribe(context.Background(), Query{Collection: Users, Field: "role", Value: "Doctor"}, rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	store.fail.Store(true)
	before := store.calls.Load()
	hub.Notify(Users)
	require.Eventually(t, func() bool { return store.calls.Load() > before }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestHubRejectsInvalidQuery(t *testing.T) {
	hub := NewHub(newFakeStore().fetch, nil)
	_, err := hub.Subscribe(context.Background(), Query{Collection: Users}, func(Snapshot) {})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestDecodeSkipsBadRecords(t *testing.T) {
	snap := NewSnapshot(map[string]json.RawMessage{
		"b": json.RawMessage(`{"id":"b"}`),
		"a": json.RawMessage(`{"id":"a"}`),
		"c": json.RawMessage(`not json`),
	})

	var skipped []string
	out := Decode[struct {
		ID string `json:"id"`
	}](snap, func(key string, err error) { skipped = append(skipped, key) })

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, []string{"c"}, skipped)
}

func TestZeroSnapshotIsEmpty(t *testing.T) {
	var s Snapshot
	assert.False(t, s.Exists())
	assert.Empty(t, s.Keys())
	assert.NotNil(t, Decode[map[string]any](s, nil))
}
