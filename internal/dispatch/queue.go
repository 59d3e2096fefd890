package dispatch

import "container/heap"

// recordHeap is a container/heap priority queue over *RequestRecord, ordered
// so that a higher Priority value pops first, and among equal priorities the
// record with the lower insertion sequence (enqueued earlier) pops first —
// i.e. FIFO within a priority band. No priority-queue library is exercised
// anywhere in the example corpus, so this is the idiomatic stdlib choice.
type recordHeap []*RequestRecord

func (h recordHeap) Len() int { return len(h) }

func (h recordHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h recordHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) {
	*h = append(*h, x.(*RequestRecord))
}

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func newRecordHeap() *recordHeap {
	h := &recordHeap{}
	heap.Init(h)
	return h
}

func (h *recordHeap) push(r *RequestRecord) { heap.Push(h, r) }

func (h *recordHeap) pop() *RequestRecord {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*RequestRecord)
}

func (h *recordHeap) peek() *RequestRecord {
	if h.Len() == 0 {
		return nil
	}
	return (*h)[0]
}
