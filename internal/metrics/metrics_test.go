package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AppointmentBooked("linked")
	m.AppointmentBooked("linked")
	m.AppointmentBooked("failed")
	m.FriendLinkJob("dead")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.appointmentsBooked.WithLabelValues("linked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appointmentsBooked.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.friendLinkJobs.WithLabelValues("dead")))
}

func TestWatchGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	done1 := m.WatchStarted("doctors")
	done2 := m.WatchStarted("doctors")
	m.SnapshotSent("doctors")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeWatches.WithLabelValues("doctors")))

	done1()
	done2()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeWatches.WithLabelValues("doctors")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshotsSent.WithLabelValues("doctors")))
}

func TestObserveRPC(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRPC("Login", "OK", 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcTotal.WithLabelValues("Login", "OK")))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.AppointmentBooked("linked")
	m.FriendLinkJob("retried")
	m.WatchStarted("appointments")()
	m.SnapshotSent("appointments")
	m.ObserveRPC("Login", "OK", time.Millisecond)
}
