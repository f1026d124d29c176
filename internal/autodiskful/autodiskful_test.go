package autodiskful

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu        sync.Mutex
	eligible  map[string]bool
	converted []Candidate
}

func (f *fakeCluster) set(c Candidate, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eligible[c.key()] = v
}

func (f *fakeCluster) inspect(_ context.Context, c Candidate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eligible[c.key()], nil
}

func (f *fakeCluster) convert(_ context.Context, c Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converted = append(f.converted, c)
	return nil
}

func (f *fakeCluster) conversions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.converted)
}

func newResource(t *testing.T, node string) *objects.Resource {
	t.Helper()
	sys := security.SystemContext()
	tx := txn.NewManager(txn.NoopDriver{}, slog.New(slog.NewTextHandler(io.Discard, nil))).Begin()
	n := objects.NewNode(sys, tx, uuid.New(), names.MustNodeName(node), objects.NodeTypeSatellite)
	rd, err := objects.NewResourceDefinition(sys, tx, uuid.New(), names.MustResourceName("rsc1"), nil, 0, nil)
	require.NoError(t, err)
	rsc, err := objects.NewResource(sys, tx, uuid.New(), n, rd, []objects.RscFlag{objects.RscFlagDiskless},
		layer.NewStorage(1, "", names.MustStorPoolName("pool1")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
	return rsc
}

func startScheduler(t *testing.T, f *fakeCluster, delay time.Duration) *Scheduler {
	t.Helper()
	s := New(Config{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Delay:         delay,
		CheckInterval: 10 * time.Millisecond,
		Inspect:       f.inspect,
		Convert:       f.convert,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestScheduler_ConvertsAfterDelay(t *testing.T) {
	f := &fakeCluster{eligible: make(map[string]bool)}
	s := startScheduler(t, f, 50*time.Millisecond)

	rsc := newResource(t, "alpha")
	c := Candidate{Node: rsc.NodeName(), Resource: rsc.ResourceName()}
	f.set(c, true)

	// repeated hints keep the first timer
	s.Update(rsc)
	s.Update(rsc)
	require.Eventually(t, func() bool { return f.conversions() == 1 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.conversions())
	require.Equal(t, "alpha", f.converted[0].Node.Display())
}

func TestScheduler_CancelledWhenNoLongerEligible(t *testing.T) {
	f := &fakeCluster{eligible: make(map[string]bool)}
	s := startScheduler(t, f, 300*time.Millisecond)

	rsc := newResource(t, "bravo")
	c := Candidate{Node: rsc.NodeName(), Resource: rsc.ResourceName()}
	f.set(c, true)
	s.Update(rsc)
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)

	f.set(c, false)
	s.Update(rsc)
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	require.Zero(t, f.conversions())
}

func TestScheduler_UpdateNeverBlocks(t *testing.T) {
	f := &fakeCluster{eligible: make(map[string]bool)}
	// not running: the queue fills up and further hints are dropped
	s := New(Config{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		QueueSize: 1,
		Inspect:   f.inspect,
		Convert:   f.convert,
	})
	rsc := newResource(t, "charlie")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			s.Update(rsc)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update blocked")
	}
}
