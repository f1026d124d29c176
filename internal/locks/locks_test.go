package locks

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/stretchr/testify/require"
)

func newTestSet() *LockSet {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScope_OrderViolationIsImplementationError(t *testing.T) {
	ls := newTestSet()
	scope := ls.NewScope()

	g, err := scope.Lock(context.Background(), RscDfnMap, Write)
	require.NoError(t, err)
	defer g.Release()

	_, err = scope.Lock(context.Background(), NodesMap, Write)
	require.Error(t, err)
	require.True(t, apierr.IsImplementation(err))
	require.False(t, scope.Holds(NodesMap, Read))
}

func TestScope_Reentrant(t *testing.T) {
	ls := newTestSet()
	scope := ls.NewScope()
	ctx := context.Background()

	outer, err := scope.Lock(ctx, NodesMap, Write)
	require.NoError(t, err)

	inner, err := scope.Lock(ctx, NodesMap, Write)
	require.NoError(t, err)
	inner.Release()
	require.True(t, scope.Holds(NodesMap, Write), "inner release must not drop the outer hold")

	asRead, err := scope.Lock(ctx, NodesMap, Read)
	require.NoError(t, err)
	asRead.Release()

	// holding a later lock does not make re-acquiring an earlier held one a violation
	rd, err := scope.Lock(ctx, RscDfnMap, Write)
	require.NoError(t, err)
	again, err := scope.Lock(ctx, NodesMap, Write)
	require.NoError(t, err)
	again.Release()
	rd.Release()

	outer.Release()
	require.False(t, scope.Holds(NodesMap, Read))
}

func TestScope_UpgradeRefused(t *testing.T) {
	ls := newTestSet()
	scope := ls.NewScope()

	g, err := scope.Lock(context.Background(), NodesMap, Read)
	require.NoError(t, err)
	defer g.Release()

	_, err = scope.Lock(context.Background(), NodesMap, Write)
	require.True(t, apierr.IsImplementation(err))
}

func TestScope_RequireHeld(t *testing.T) {
	ls := newTestSet()
	scope := ls.NewScope()
	require.True(t, apierr.IsImplementation(scope.RequireHeld(NodesMap, Write)))

	g, err := scope.Lock(context.Background(), NodesMap, Read)
	require.NoError(t, err)
	require.True(t, apierr.IsImplementation(scope.RequireHeld(NodesMap, Write)))
	require.NoError(t, scope.RequireHeld(NodesMap, Read))
	g.Release()
}

func TestLockSet_WriterExcludesReaders(t *testing.T) {
	ls := newTestSet()
	ctx := context.Background()

	writer := ls.NewScope()
	wg, err := writer.Lock(ctx, RscDfnMap, Write)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		reader := ls.NewScope()
		g, err := reader.Lock(ctx, RscDfnMap, Read)
		if err == nil {
			close(acquired)
			g.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired while writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	wg.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired after writer released")
	}
}

func TestLockSet_ReadersShare(t *testing.T) {
	ls := newTestSet()
	ctx := context.Background()

	a, err := ls.NewScope().Lock(ctx, NodesMap, Read)
	require.NoError(t, err)
	b, err := ls.NewScope().Lock(ctx, NodesMap, Read)
	require.NoError(t, err)
	a.Release()
	b.Release()
}

func TestLockSet_AbandonedWaitLeavesNoState(t *testing.T) {
	ls := newTestSet()
	holder := ls.NewScope()
	g, err := holder.Lock(context.Background(), StorPoolDfnMap, Write)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	waiter := ls.NewScope()
	_, err = waiter.Lock(ctx, StorPoolDfnMap, Write)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, waiter.Holds(StorPoolDfnMap, Read))

	g.Release()
	g2, err := waiter.Lock(context.Background(), StorPoolDfnMap, Write)
	require.NoError(t, err)
	g2.Release()
}

func TestLockSet_BuildSortsAndRollsBack(t *testing.T) {
	ls := newTestSet()
	scope := ls.NewScope()

	g, err := ls.Build(context.Background(), scope, Write, StorPoolDfnMap, NodesMap, RscDfnMap, NodesMap)
	require.NoError(t, err)
	require.True(t, scope.Holds(NodesMap, Write))
	require.True(t, scope.Holds(RscDfnMap, Write))
	require.True(t, scope.Holds(StorPoolDfnMap, Write))
	g.Release()
	g.Release()
	require.False(t, scope.Holds(NodesMap, Read))

	// a later lock held elsewhere in the scope makes the build fail and
	// nothing the build took may stay held
	hold, err := scope.Lock(context.Background(), RscDfnMap, Read)
	require.NoError(t, err)
	_, err = ls.Build(context.Background(), scope, Write, NodesMap)
	require.True(t, apierr.IsImplementation(err))
	require.False(t, scope.Holds(NodesMap, Read))
	hold.Release()
}

// Random operations over random subsets of the catalog. Every operation goes
// through Build, so the global order is respected and the run must finish.
func TestLockSet_RandomInterleavingsNeverDeadlock(t *testing.T) {
	ls := newTestSet()
	all := []LockObj{Reconfiguration, NodesMap, RscGrpMap, RscDfnMap, StorPoolDfnMap}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		wg       sync.WaitGroup
		counters [lockObjCount]int64
		done     int64
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				var objs []LockObj
				for _, o := range all {
					if rnd.Intn(2) == 0 {
						objs = append(objs, o)
					}
				}
				typ := Read
				if rnd.Intn(3) == 0 {
					typ = Write
				}
				scope := ls.NewScope()
				g, err := ls.Build(ctx, scope, typ, objs...)
				if err != nil {
					t.Errorf("build failed: %v", err)
					return
				}
				if typ == Write {
					for _, o := range objs {
						// writers are exclusive, so a plain increment is safe
						// only if no one else holds the lock
						if v := atomic.AddInt64(&counters[o], 1); v != 1 {
							t.Errorf("%s held by more than one writer", o)
						}
					}
					for _, o := range objs {
						atomic.AddInt64(&counters[o], -1)
					}
				}
				g.Release()
			}
			atomic.AddInt64(&done, 1)
		}(int64(w))
	}
	wg.Wait()
	require.NoError(t, ctx.Err(), "workers did not finish in time")
	require.EqualValues(t, 16, done)
}
