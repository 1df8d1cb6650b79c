package index

import "container/heap"

type candidate struct {
	id   uint32
	dist float32
}

// candidateQueue is a binary heap of candidates. With farthestFirst set the
// largest distance sits on top; otherwise the smallest does.
type candidateQueue struct {
	items         []candidate
	farthestFirst bool
}

var _ heap.Interface = (*candidateQueue)(nil)

func (q *candidateQueue) Len() int { return len(q.items) }

func (q *candidateQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.dist == b.dist {
		if q.farthestFirst {
			return a.id > b.id
		}
		return a.id < b.id
	}
	if q.farthestFirst {
		return a.dist > b.dist
	}
	return a.dist < b.dist
}

func (q *candidateQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *candidateQueue) Push(x any) { q.items = append(q.items, x.(candidate)) }

func (q *candidateQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

func (q *candidateQueue) top() candidate { return q.items[0] }

func (q *candidateQueue) push(c candidate) { heap.Push(q, c) }

func (q *candidateQueue) pop() candidate { return heap.Pop(q).(candidate) }
