package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctor-booking-api/internal/model"
)

var alice = model.UserProfile{ID: "p1", Fullname: "Alice", Email: "alice@example.com", Role: model.RolePatient, Bio: "runner"}

func backends(t *testing.T) map[string]KV {
	t.Helper()
	fkv, err := NewFileKV(filepath.Join(t.TempDir(), "session"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]KV{
		"file":  fkv,
		"redis": NewRedisKV(client, "session:"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := NewStore(kv)

			got, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, st.Save(ctx, alice))
			got, err = st.Load(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, alice, *got)

			require.NoError(t, st.SaveTokens(ctx, Tokens{AccessToken: "a", RefreshToken: "r"}))
			tok, err := st.LoadTokens(ctx)
			require.NoError(t, err)
			assert.Equal(t, "r", tok.RefreshToken)

			require.NoError(t, st.Clear(ctx))
			got, err = st.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
			tok, err = st.LoadTokens(ctx)
			require.NoError(t, err)
			assert.Nil(t, tok)

			// clearing twice is fine
			require.NoError(t, st.Clear(ctx))
		})
	}
}

func TestLoadCorruptValue(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, AuthKey), []byte("{not json"), 0o600))

	_, err = NewStore(kv).Load(context.Background())
	assert.Error(t, err)
}

func TestFileKVRejectsPathKeys(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, kv.Put(context.Background(), "../escape", []byte("x")))
	_, err = kv.Get(context.Background(), "a/b")
	assert.Error(t, err)
}

func TestFileKVLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), AuthKey, []byte(`{}`)))
	require.NoError(t, kv.Put(context.Background(), AuthKey, []byte(`{"id":"x"}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuthKey, entries[0].Name())
}

type countingSub struct{ n int }

func (c *countingSub) Unsubscribe() { c.n++ }

func TestManagerLogoutEndsSubscriptionsOnce(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	m := NewManager(NewStore(kv))
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, alice, Tokens{AccessToken: "a", RefreshToken: "r"}))
	cur, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", cur.ID)

	s1, s2 := &countingSub{}, &countingSub{}
	m.Track(s1)
	m.Track(s2)
	watchCtx := m.Context()
	assert.Equal(t, 2, m.Active())

	require.NoError(t, m.Logout(ctx))
	require.NoError(t, m.Logout(ctx))

	assert.Equal(t, 1, s1.n)
	assert.Equal(t, 1, s2.n)
	assert.Zero(t, m.Active())
	assert.Error(t, watchCtx.Err())
	assert.NoError(t, m.Context().Err())

	cur, err = m.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestCancelFuncIsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sub Subscription = CancelFunc(cancel)
	sub.Unsubscribe()
	assert.Error(t, ctx.Err())
}
