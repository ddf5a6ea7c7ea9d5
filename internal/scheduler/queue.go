package scheduler

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// pendingQueue is the ordered set of admitted requests awaiting batching.
// Insertion order is preserved: first admitted, first batched. Not safe for
// concurrent use; the scheduler guards it with its own mutex.
type pendingQueue struct {
	q        *linkedlistqueue.Queue
	capacity int
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{q: linkedlistqueue.New(), capacity: capacity}
}

// enqueue admits a request, refusing when the queue is at capacity.
func (p *pendingQueue) enqueue(req *request) bool {
	if p.q.Size() >= p.capacity {
		return false
	}
	p.q.Enqueue(req)
	return true
}

// drain removes and returns up to max requests in admission order.
func (p *pendingQueue) drain(max int) []*request {
	n := p.q.Size()
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	reqs := make([]*request, 0, n)
	for i := 0; i < n; i++ {
		value, ok := p.q.Dequeue()
		if !ok {
			break
		}
		reqs = append(reqs, value.(*request))
	}
	return reqs
}

func (p *pendingQueue) size() int {
	return p.q.Size()
}
