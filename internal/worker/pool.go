package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"challenge_server/internal/domain"
)

// Item is one unit of ingestion work. A nil Snapshot means the worker must
// fetch a fresh reading from the gateway before processing.
type Item struct {
	ChallengeID string
	Snapshot    *domain.Snapshot
	At          time.Time
}

// ProcessFunc executes one item. Errors are the callee's to log; the pool
// only sequences work.
type ProcessFunc func(ctx context.Context, item Item)

// Pool runs a fixed set of workers with per-challenge serialisation: items
// for the same challenge always land on the same worker, and a pending
// item is coalesced with any newer one for that challenge so a lagging
// worker only processes the latest snapshot.
type Pool struct {
	workers []*laneWorker
	group   *errgroup.Group
	cancel  context.CancelFunc
	closed  bool
	mu      sync.Mutex
}

type laneWorker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]Item
	order   []string
	closed  bool
}

func newLaneWorker() *laneWorker {
	w := &laneWorker{pending: make(map[string]Item)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func NewPool(size int, fn ProcessFunc) *Pool {
	if size <= 0 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	p := &Pool{
		workers: make([]*laneWorker, size),
		group:   group,
		cancel:  cancel,
	}

	for i := range p.workers {
		w := newLaneWorker()
		p.workers[i] = w
		group.Go(func() error {
			w.run(ctx, fn)
			return nil
		})
	}

	return p
}

// Submit enqueues an item, replacing any still-pending item for the same
// challenge. Returns false after shutdown has begun.
func (p *Pool) Submit(item Item) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	return p.workerFor(item.ChallengeID).submit(item)
}

// Shutdown stops intake and blocks until every worker has drained its
// queue, including any enforcement work in flight.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for _, w := range p.workers {
		w.close()
	}
	_ = p.group.Wait()
	p.cancel()
}

func (p *Pool) workerFor(challengeID string) *laneWorker {
	h := fnv.New32a()
	_, _ = h.Write([]byte(challengeID))
	return p.workers[int(h.Sum32())%len(p.workers)]
}

func (w *laneWorker) submit(item Item) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}

	if _, queued := w.pending[item.ChallengeID]; !queued {
		w.order = append(w.order, item.ChallengeID)
	}
	w.pending[item.ChallengeID] = item

	w.cond.Signal()
	return true
}

func (w *laneWorker) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *laneWorker) run(ctx context.Context, fn ProcessFunc) {
	for {
		w.mu.Lock()
		for len(w.order) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.order) == 0 && w.closed {
			w.mu.Unlock()
			return
		}

		id := w.order[0]
		w.order = w.order[1:]
		item := w.pending[id]
		delete(w.pending, id)
		w.mu.Unlock()

		fn(ctx, item)
	}
}
