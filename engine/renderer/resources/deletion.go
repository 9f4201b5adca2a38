package resources

import (
	"github.com/spaghettifunk/anima-core/engine/containers"
)

type pendingDeletion struct {
	frame   uint64
	destroy func()
}

// DeletionQueue defers destruction of resources that in-flight frames may
// still read. An entry queued during frame F runs once frame F+framesInFlight
// has begun, by which time the synchronizer has waited for F to complete.
type DeletionQueue struct {
	framesInFlight uint64
	queue          *containers.RingQueue[pendingDeletion]
}

func NewDeletionQueue(framesInFlight int) *DeletionQueue {
	return &DeletionQueue{
		framesInFlight: uint64(framesInFlight),
		queue:          containers.NewGrowableRingQueue[pendingDeletion](16),
	}
}

// Push schedules destroy for the frame currently being recorded.
func (q *DeletionQueue) Push(frame uint64, destroy func()) {
	// growable queues never report full
	_ = q.queue.Enqueue(pendingDeletion{frame: frame, destroy: destroy})
}

// Collect runs every entry that is safe at the start of frame current and
// returns how many ran.
func (q *DeletionQueue) Collect(current uint64) int {
	n := 0
	for !q.queue.IsEmpty() {
		next, _ := q.queue.Peek()
		if next.frame+q.framesInFlight > current {
			break
		}
		_, _ = q.queue.Dequeue()
		next.destroy()
		n++
	}
	return n
}

// Flush runs everything, for teardown after the device is idle.
func (q *DeletionQueue) Flush() int {
	n := 0
	for !q.queue.IsEmpty() {
		next, _ := q.queue.Dequeue()
		next.destroy()
		n++
	}
	return n
}

func (q *DeletionQueue) Len() int {
	return q.queue.Len()
}
