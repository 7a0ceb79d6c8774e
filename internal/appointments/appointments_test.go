package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/gateway/redisstore"
	"doctor-booking-api/internal/model"
)

var (
	alice = model.UserProfile{ID: "p1", Fullname: "Alice", Role: model.RolePatient, Avatar: "a.png", Bio: "runner"}
	bob   = model.UserProfile{ID: "d1", Fullname: "Bob", Role: model.RoleDoctor, Avatar: "b.png", Bio: "GP"}
)

type fakeChat struct {
	mu    sync.Mutex
	err   error
	calls [][]string
}

func (f *fakeChat) AddFriends(_ context.Context, uid string, friendIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{uid}, friendIDs...))
	return f.err
}

type fakeQueue struct {
	err  error
	jobs [][2]string
}

func (f *fakeQueue) EnqueueFriendLink(_ context.Context, uid, friendID string) error {
	f.jobs = append(f.jobs, [2]string{uid, friendID})
	return f.err
}

type countingMetrics struct{ outcomes []string }

func (m *countingMetrics) AppointmentBooked(outcome string) { m.outcomes = append(m.outcomes, outcome) }

func newGateway(t *testing.T) *redisstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := redisstore.New(client, nil)
	t.Cleanup(st.Close)
	return st
}

func newBooker(t *testing.T, gw gateway.Gateway, chat ChatLinker, opts ...Option) *Booker {
	t.Helper()
	b, err := NewBooker(gw, chat, nil, opts...)
	require.NoError(t, err)
	return b
}

func TestAliceBookingShowsUpForBob(t *testing.T) {
	gw := newGateway(t)
	chat := &fakeChat{}
	ctx := context.Background()

	res, err := newBooker(t, gw, chat).Book(ctx, alice, bob, "")
	require.NoError(t, err)
	assert.True(t, res.ChatLinked)
	assert.Equal(t, [][]string{{"p1", "d1"}}, chat.calls)

	s := NewSync(gw, nil)
	forBob, err := s.List(ctx, "d1", model.RoleDoctor)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, model.DisplayAppointment{
		AppointmentID: res.Appointment.ID, ID: "p1", Fullname: "Alice", Avatar: "a.png", Bio: "runner",
	}, forBob[0])

	forAlice, err := s.List(ctx, "p1", model.RolePatient)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, "Bob", forAlice[0].Fullname)
	assert.Equal(t, "d1", forAlice[0].ID)
}

func TestRepeatBookingCreatesDistinctIDs(t *testing.T) {
	gw := newGateway(t)
	b := newBooker(t, gw, &fakeChat{})
	ctx := context.Background()

	first, err := b.Book(ctx, alice, bob, "")
	require.NoError(t, err)
	second, err := b.Book(ctx, alice, bob, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Appointment.ID, second.Appointment.ID)

	list, err := NewSync(gw, nil).List(ctx, "p1", model.RolePatient)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestIdempotencyKeyReplays(t *testing.T) {
	gw := newGateway(t)
	chat := &fakeChat{}
	m := &countingMetrics{}
	b := newBooker(t, gw, chat, WithMetrics(m))
	ctx := context.Background()

	first, err := b.Book(ctx, alice, bob, "req-1")
	require.NoError(t, err)
	again, err := b.Book(ctx, alice, bob, "req-1")
	require.NoError(t, err)
	assert.Equal(t, first.Appointment, again.Appointment)
	assert.Equal(t, OutcomeReplayed, again.Outcome)
	assert.Len(t, chat.calls, 1)
	assert.Equal(t, []string{OutcomeLinked, OutcomeReplayed}, m.outcomes)

	other, err := b.Book(ctx, alice, bob, "req-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.Appointment.ID, other.Appointment.ID)
}

func TestChatFailureBestEffortStillWrites(t *testing.T) {
	gw := newGateway(t)
	b := newBooker(t, gw, &fakeChat{err: errors.New("chat: status 500")})

	res, err := b.Book(context.Background(), alice, bob, "")
	require.NoError(t, err)
	assert.False(t, res.ChatLinked)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	snap, err := gw.Get(context.Background(), gateway.Appointments, res.Appointment.ID)
	require.NoError(t, err)
	assert.True(t, snap.Exists())
}

func TestChatFailureRequiredWritesNothing(t *testing.T) {
	gw := newGateway(t)
	b := newBooker(t, gw, &fakeChat{err: errors.New("chat: status 500")}, WithPolicy(PolicyRequired))

	_, err := b.Book(context.Background(), alice, bob, "")
	assert.ErrorIs(t, err, ErrChatLink)

	list, err := NewSync(gw, nil).List(context.Background(), "p1", model.RolePatient)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeferredPolicyEnqueues(t *testing.T) {
	gw := newGateway(t)
	chat := &fakeChat{}
	q := &fakeQueue{}
	b := newBooker(t, gw, chat, WithPolicy(PolicyDeferred), WithQueue(q))

	res, err := b.Book(context.Background(), alice, bob, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.False(t, res.ChatLinked)
	assert.Empty(t, chat.calls)
	assert.Equal(t, [][2]string{{"p1", "d1"}}, q.jobs)
}

func TestDeferredPolicyNeedsQueue(t *testing.T) {
	_, err := NewBooker(newGateway(t), &fakeChat{}, nil, WithPolicy(PolicyDeferred))
	assert.Error(t, err)
}

func TestBookWithoutChatClient(t *testing.T) {
	_, err := NewBooker(newGateway(t), nil, nil, WithPolicy(PolicyRequired))
	assert.Error(t, err)

	b := newBooker(t, newGateway(t), nil)
	res, err := b.Book(context.Background(), alice, bob, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestBookRejectsWrongRoles(t *testing.T) {
	b := newBooker(t, newGateway(t), &fakeChat{})
	ctx := context.Background()

	_, err := b.Book(ctx, bob, bob, "")
	assert.ErrorIs(t, err, ErrNotPatient)
	_, err = b.Book(ctx, alice, alice, "")
	assert.ErrorIs(t, err, ErrNotDoctor)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ChatPolicy
		wantErr bool
	}{
		{"", PolicyBestEffort, false},
		{"required", PolicyRequired, false},
		{" Deferred ", PolicyDeferred, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestListEmptyIsNotNil(t *testing.T) {
	list, err := NewSync(newGateway(t), nil).List(context.Background(), "nobody", model.RoleDoctor)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestListRejectsUnknownRole(t *testing.T) {
	_, err := NewSync(newGateway(t), nil).List(context.Background(), "x", model.Role("Nurse"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestHasAppointmentWith(t *testing.T) {
	gw := newGateway(t)
	_, err := newBooker(t, gw, &fakeChat{}).Book(context.Background(), alice, bob, "")
	require.NoError(t, err)

	s := NewSync(gw, nil)
	ok, err := s.HasAppointmentWith(context.Background(), "p1", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasAppointmentWith(context.Background(), "p1", "d2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscribeFansOutToBothSides(t *testing.T) {
	gw := newGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, gw.Start(ctx))

	s := NewSync(gw, nil)
	doctorView := make(chan []model.DisplayAppointment, 8)
	patientView := make(chan []model.DisplayAppointment, 8)

	subD, err := s.Subscribe(ctx, "d1", model.RoleDoctor, func(l []model.DisplayAppointment) { doctorView <- l })
	require.NoError(t, err)
	defer subD.Unsubscribe()
	subP, err := s.Subscribe(ctx, "p1", model.RolePatient, func(l []model.DisplayAppointment) { patientView <- l })
	require.NoError(t, err)
	defer subP.Unsubscribe()

	assert.NotNil(t, recv(t, doctorView))
	assert.Empty(t, recv(t, patientView))

	_, err = newBooker(t, gw, &fakeChat{}).Book(ctx, alice, bob, "")
	require.NoError(t, err)

	d := recv(t, doctorView)
	require.Len(t, d, 1)
	assert.Equal(t, "Alice", d[0].Fullname)

	p := recv(t, patientView)
	require.Len(t, p, 1)
	assert.Equal(t, "Bob", p[0].Fullname)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for list")
		var zero T
		return zero
	}
}
