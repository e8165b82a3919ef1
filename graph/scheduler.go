package graph

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// PendingNode is a schedulable unit of work in the superstep frontier: a
// node made runnable by a branch:to:<NodeID> write. OrderKey is the
// deterministic tie-break key derived from the write's emission order
// (spec §4.4 tie-break rules), not from wall-clock or goroutine
// scheduling order.
type PendingNode struct {
	NodeID   string `json:"node_id"`
	OrderKey uint64 `json:"order_key"`
	TaskID   string `json:"task_id"`
}

// ComputeOrderKey derives a deterministic sort key from a write's
// position in the emission order and its target node, so that replays
// of the same superstep always dispatch pending nodes in the same
// order regardless of concurrent execution.
func ComputeOrderKey(emissionIndex int, target string) uint64 {
	h := sha256.New()
	idxBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBytes, uint32(emissionIndex))
	h.Write(idxBytes)
	h.Write([]byte(target))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// pendingHeap implements heap.Interface, ordering PendingNode by OrderKey.
type pendingHeap []PendingNode

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].OrderKey < h[j].OrderKey }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(PendingNode)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// Frontier bounds how many pending nodes of one superstep may be
// dispatched concurrently, while preserving deterministic dequeue order
// by OrderKey. The Runner does not use Frontier: its concurrent mode
// (WithMaxConcurrentNodes) bounds dispatch with a semaphore instead.
type Frontier struct {
	heap     pendingHeap
	queue    chan PendingNode
	capacity int
	mu       sync.Mutex

	totalEnqueued      atomic.Int64
	totalDequeued      atomic.Int64
	backpressureEvents atomic.Int32
	peakQueueDepth     atomic.Int32
}

// NewFrontier creates a Frontier with the given bounded capacity.
func NewFrontier(capacity int) *Frontier {
	f := &Frontier{
		heap:     make(pendingHeap, 0),
		queue:    make(chan PendingNode, capacity),
		capacity: capacity,
	}
	heap.Init(&f.heap)
	return f
}

// Enqueue adds a pending node, blocking if the frontier is at capacity
// until the context is cancelled.
func (f *Frontier) Enqueue(ctx context.Context, item PendingNode) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	f.mu.Lock()
	heap.Push(&f.heap, item)
	depth := int32(f.heap.Len())
	f.mu.Unlock()

	for {
		oldPeak := f.peakQueueDepth.Load()
		if depth <= oldPeak || f.peakQueueDepth.CompareAndSwap(oldPeak, depth) {
			break
		}
	}
	if depth >= int32(f.capacity) {
		f.backpressureEvents.Add(1)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.queue <- item:
		f.totalEnqueued.Add(1)
		return nil
	}
}

// Dequeue blocks until a pending node is available and returns the one
// with the smallest OrderKey.
func (f *Frontier) Dequeue(ctx context.Context) (PendingNode, error) {
	var zero PendingNode
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-f.queue:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.heap.Len() == 0 {
			return zero, context.Canceled
		}
		item := heap.Pop(&f.heap).(PendingNode)
		f.totalDequeued.Add(1)
		return item, nil
	}
}

// Len returns the current frontier depth.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// SchedulerMetrics is a point-in-time snapshot of Frontier activity.
type SchedulerMetrics struct {
	QueueDepth         int32
	QueueCapacity      int32
	TotalEnqueued      int64
	TotalDequeued      int64
	BackpressureEvents int32
	PeakQueueDepth     int32
}

// Metrics returns a snapshot of the frontier's counters.
func (f *Frontier) Metrics() SchedulerMetrics {
	f.mu.Lock()
	depth := int32(f.heap.Len())
	f.mu.Unlock()

	return SchedulerMetrics{
		QueueDepth:         depth,
		QueueCapacity:      int32(f.capacity),
		TotalEnqueued:      f.totalEnqueued.Load(),
		TotalDequeued:      f.totalDequeued.Load(),
		BackpressureEvents: f.backpressureEvents.Load(),
		PeakQueueDepth:     f.peakQueueDepth.Load(),
	}
}
