package poller

import (
	"container/heap"
)

// taskQueue is a min-heap of tasks ordered by noFetchBefore. Among tasks
// with the same noFetchBefore the most recently inserted one comes first.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if !q[i].noFetchBefore.Equal(q[j].noFetchBefore) {
		return q[i].noFetchBefore.Before(q[j].noFetchBefore)
	}
	return q[i].seq > q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// peek returns the next task without removing it.
func (q taskQueue) peek() *task {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// upsert inserts t, or repositions it if already queued. A task is never
// in the queue twice.
func (q *taskQueue) upsert(t *task) {
	if t.index >= 0 {
		heap.Fix(q, t.index)
		return
	}
	heap.Push(q, t)
}

func (q *taskQueue) pop() *task {
	return heap.Pop(q).(*task)
}
