package task

import "container/heap"

// pollEntry schedules a reconciliation poll of a dispatched task against its
// worker's /tasks/{id} endpoint.
type pollEntry struct {
	taskID     string
	workerID   string
	endpoint   string
	nextPollAt int64 // unix nanos
	backoff    int64 // nanos to add on the next reschedule
	index      int
}

// pollHeap is a min-heap ordered by nextPollAt, so the earliest-due poll is
// always at the root.
type pollHeap []*pollEntry

func (h pollHeap) Len() int { return len(h) }

func (h pollHeap) Less(i, j int) bool { return h[i].nextPollAt < h[j].nextPollAt }

func (h pollHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pollHeap) Push(x interface{}) {
	n := len(*h)
	e := x.(*pollEntry)
	e.index = n
	*h = append(*h, e)
}

func (h *pollHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}

// pollQueue wraps pollHeap with by-taskID lookup for removal on terminal.
type pollQueue struct {
	h      pollHeap
	byTask map[string]*pollEntry
}

func newPollQueue() *pollQueue {
	q := &pollQueue{byTask: make(map[string]*pollEntry)}
	heap.Init(&q.h)
	return q
}

func (q *pollQueue) push(e *pollEntry) {
	heap.Push(&q.h, e)
	q.byTask[e.taskID] = e
}

func (q *pollQueue) remove(taskID string) {
	e, ok := q.byTask[taskID]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.byTask, taskID)
}

// popDue pops and returns every entry whose nextPollAt is <= now.
func (q *pollQueue) popDue(now int64) []*pollEntry {
	var due []*pollEntry
	for len(q.h) > 0 && q.h[0].nextPollAt <= now {
		e := heap.Pop(&q.h).(*pollEntry)
		delete(q.byTask, e.taskID)
		due = append(due, e)
	}
	return due
}

func (q *pollQueue) len() int { return len(q.h) }
