package classify

import "container/heap"

type classScore struct {
	index int
	prob  float64
}

type minHeap []classScore

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].prob < h[j].prob }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(classScore))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}

// topKTracker keeps track of the top K scoring classes
type topKTracker struct {
	k    int
	heap minHeap
}

func newTopKTracker(k int) *topKTracker {
	topk := &topKTracker{
		k:    k,
		heap: make(minHeap, 0, k),
	}
	heap.Init(&topk.heap)
	return topk
}

func (t *topKTracker) processItem(index int, prob float64) {
	if len(t.heap) < t.k {
		heap.Push(&t.heap, classScore{index, prob})
		return
	}

	if prob > t.heap[0].prob {
		heap.Pop(&t.heap)
		heap.Push(&t.heap, classScore{index, prob})
	}
}

// topK returns the tracked classes in descending probability order.
func (t *topKTracker) topK() []classScore {
	tempHeap := make(minHeap, len(t.heap))
	copy(tempHeap, t.heap)

	// Pop items in ascending order
	result := make([]classScore, len(tempHeap))
	for i := len(tempHeap) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&tempHeap).(classScore)
	}
	return result
}
