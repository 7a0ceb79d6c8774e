package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"doctor-booking-api/internal/gateway"
)

func TestStringFieldsKeepsOnlyStrings(t *testing.T) {
	got := stringFields(json.RawMessage(`{"id":"d1","role":"Doctor","age":40,"tags":["a"]}`))
	assert.Equal(t, map[string]string{"id": "d1", "role": "Doctor"}, got)
	assert.Nil(t, stringFields(json.RawMessage(`nope`)))
}

// Needs a replica set for the change stream.
func TestMongoRoundTrip(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("booking_test_" + time.Now().Format("150405"))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	st := New(db, nil)
	require.NoError(t, st.Start(ctx))

	got := make(chan int, 8)
	sub, err := st.Subscribe(ctx, gateway.Query{Collection: gateway.Users, Field: "role", Value: "Doctor"}, func(s gateway.Snapshot) {
		got <- s.Len()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	assert.Equal(t, 0, <-got)

	require.NoError(t, st.Set(ctx, gateway.Users, "d1", map[string]string{"id": "d1", "role": "Doctor"}))
	select {
	case n := <-got:
		assert.Equal(t, 1, n)
	case <-ctx.Done():
		t.Fatal("no change event")
	}

	snap, err := st.Get(ctx, gateway.Users, "d1")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
}
