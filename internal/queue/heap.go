package queue

import "github.com/JakeFAU/crawlfrontier/internal/crawler"

// itemHeap orders one host's items with crawler.WorkItem.Before.
type itemHeap []crawler.WorkItem

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(crawler.WorkItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = crawler.WorkItem{}
	*h = old[:n-1]
	return item
}
