package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"challenge_server/internal/domain"
)

func TestPoolSerialisesPerChallenge(t *testing.T) {
	var active int32
	var overlapped int32
	var processed int32

	fn := func(_ context.Context, _ Item) {
		if atomic.AddInt32(&active, 1) != 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&processed, 1)
	}

	p := NewPool(4, fn)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				p.Submit(Item{ChallengeID: "ch-1", At: time.Now()})
				time.Sleep(time.Millisecond / 2)
			}
		}()
	}
	wg.Wait()
	p.Shutdown()

	require.Zero(t, atomic.LoadInt32(&overlapped), "items for one challenge ran concurrently")
	require.Greater(t, atomic.LoadInt32(&processed), int32(0))
}

func TestPoolCoalescesPendingItems(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var seen []float64

	fn := func(_ context.Context, item Item) {
		mu.Lock()
		first := len(seen) == 0
		marker := -1.0
		if item.Snapshot != nil {
			marker = item.Snapshot.Balance
		}
		seen = append(seen, marker)
		mu.Unlock()

		if first {
			close(started)
			<-release
		}
	}

	p := NewPool(1, fn)

	require.True(t, p.Submit(Item{ChallengeID: "ch-1", Snapshot: &domain.Snapshot{Balance: 0}}))
	<-started

	// Three more arrive while the worker is busy; only the newest survives.
	require.True(t, p.Submit(Item{ChallengeID: "ch-1", Snapshot: &domain.Snapshot{Balance: 1}}))
	require.True(t, p.Submit(Item{ChallengeID: "ch-1", Snapshot: &domain.Snapshot{Balance: 2}}))
	require.True(t, p.Submit(Item{ChallengeID: "ch-1", Snapshot: &domain.Snapshot{Balance: 3}}))

	close(release)
	p.Shutdown()

	require.Equal(t, []float64{0, 3}, seen)
}

func TestPoolCoalescingIsPerChallenge(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	counts := make(map[string]int)

	fn := func(_ context.Context, item Item) {
		mu.Lock()
		blockFirst := counts["blocker"] == 0 && item.ChallengeID == "blocker"
		counts[item.ChallengeID]++
		mu.Unlock()

		if blockFirst {
			close(started)
			<-release
		}
	}

	p := NewPool(1, fn)

	require.True(t, p.Submit(Item{ChallengeID: "blocker"}))
	<-started

	// Queued behind the blocker: distinct challenges never coalesce with
	// each other.
	require.True(t, p.Submit(Item{ChallengeID: "a"}))
	require.True(t, p.Submit(Item{ChallengeID: "b"}))
	require.True(t, p.Submit(Item{ChallengeID: "a"}))

	close(release)
	p.Shutdown()

	require.Equal(t, 1, counts["blocker"])
	require.Equal(t, 1, counts["a"], "pending item for the same challenge coalesces")
	require.Equal(t, 1, counts["b"])
}

func TestPoolShutdownDrains(t *testing.T) {
	var processed int32
	fn := func(_ context.Context, _ Item) {
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&processed, 1)
	}

	p := NewPool(2, fn)
	for i := 0; i < 10; i++ {
		p.Submit(Item{ChallengeID: string(rune('a' + i))})
	}
	p.Shutdown()

	require.Equal(t, int32(10), atomic.LoadInt32(&processed), "shutdown must drain queued items")
	require.False(t, p.Submit(Item{ChallengeID: "late"}), "submit after shutdown must be rejected")
}

func TestPoolRoutesSameChallengeToSameWorker(t *testing.T) {
	p := NewPool(8, func(_ context.Context, _ Item) {})
	defer p.Shutdown()

	w := p.workerFor("ch-route")
	for i := 0; i < 100; i++ {
		require.Same(t, w, p.workerFor("ch-route"))
	}
}
