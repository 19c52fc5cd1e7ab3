package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgrid/campusgrid/pkg/types"
)

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "w1", Name: "lab-pc"})

	w, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, types.WorkerStatusOnline, w.Status)
	assert.False(t, w.LastHeartbeat.IsZero())
	assert.Equal(t, 1, r.Count())
}

func TestRegistryHeartbeat(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "w1"})

	w, _ := r.Get("w1")
	w.LastHeartbeat = time.Now().Add(-time.Hour)

	assert.True(t, r.Heartbeat("w1"))
	w, _ = r.Get("w1")
	assert.WithinDuration(t, time.Now(), w.LastHeartbeat, time.Second)

	assert.False(t, r.Heartbeat("unknown"))
}

func TestRegistryHeartbeatPreservesBusy(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "w1"})
	r.SetBusy("w1", "j1")

	r.Heartbeat("w1")

	w, _ := r.Get("w1")
	assert.Equal(t, types.WorkerStatusBusy, w.Status)
	assert.Equal(t, "j1", w.CurrentJob)
}

func TestRegistryBusyIdleCycle(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "w1"})

	r.SetBusy("w1", "j1")
	total, online, busy := r.Stats()
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, online)
	assert.Equal(t, 1, busy)

	r.SetIdle("w1", true)
	w, _ := r.Get("w1")
	assert.Equal(t, types.WorkerStatusOnline, w.Status)
	assert.Empty(t, w.CurrentJob)
	assert.Equal(t, 1, w.JobsCompleted)
}

func TestRegistrySetIdleFailureNotCounted(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "w1"})

	r.SetBusy("w1", "j1")
	r.SetIdle("w1", false)

	w, _ := r.Get("w1")
	assert.Equal(t, types.WorkerStatusOnline, w.Status)
	assert.Zero(t, w.JobsCompleted)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "w1", Name: "lab-pc"})

	w, ok := r.Remove("w1")
	require.True(t, ok)
	assert.Equal(t, "lab-pc", w.Name)
	assert.Equal(t, 0, r.Count())

	_, ok = r.Remove("w1")
	assert.False(t, ok)
}

func TestRegistryTimedOut(t *testing.T) {
	r := NewRegistry()
	r.Add(&LiveWorker{ID: "fresh"})
	r.Add(&LiveWorker{ID: "stale"})

	w, _ := r.Get("stale")
	w.LastHeartbeat = time.Now().Add(-2 * time.Minute)

	stale := r.TimedOut(time.Minute)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0])
}
