package scraper

import (
	"sync"

	"github.com/jonesrussell/asinscrape/internal/domain"
)

// ItemQueue is the ordered, deduplicated work list for one job. Insertion
// order is processing priority; batches are claimed FIFO over pending items.
// The queue supports snapshot and restore so the controller can checkpoint.
type ItemQueue struct {
	mu    sync.Mutex
	items []domain.Item
	index map[string]int
}

// NewItemQueue builds a queue of pending items from already-validated,
// deduplicated ASINs.
func NewItemQueue(asins []string) *ItemQueue {
	q := &ItemQueue{
		items: make([]domain.Item, 0, len(asins)),
		index: make(map[string]int, len(asins)),
	}
	for _, asin := range asins {
		q.index[asin] = len(q.items)
		q.items = append(q.items, domain.Item{
			ASIN:   asin,
			Status: domain.ItemStatusPending,
		})
	}
	return q
}

// RestoreItemQueue rebuilds a queue from checkpointed items, preserving each
// item's status and attempt count.
func RestoreItemQueue(items []domain.Item) *ItemQueue {
	q := &ItemQueue{
		items: make([]domain.Item, len(items)),
		index: make(map[string]int, len(items)),
	}
	copy(q.items, items)
	for i := range q.items {
		q.index[q.items[i].ASIN] = i
	}
	return q
}

// ClaimBatch marks up to n pending items in_progress and returns copies of
// them in insertion order. The claim is exclusive: an item cannot be claimed
// twice concurrently.
func (q *ItemQueue) ClaimBatch(n int) []domain.Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	claimed := make([]domain.Item, 0, n)
	for i := range q.items {
		if len(claimed) == n {
			break
		}
		if q.items[i].Status != domain.ItemStatusPending {
			continue
		}
		q.items[i].Status = domain.ItemStatusInProgress
		claimed = append(claimed, q.items[i])
	}
	return claimed
}

// MarkSuccess records a successful fetch for the item.
func (q *ItemQueue) MarkSuccess(asin, resultRef string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.index[asin]
	if !ok {
		return
	}
	q.items[i].Status = domain.ItemStatusSuccess
	q.items[i].Attempts++
	q.items[i].LastError = nil
	q.items[i].ResultRef = &resultRef
}

// MarkSkipped records that a fresh cached result made a fetch unnecessary.
// Skipping does not consume an attempt.
func (q *ItemQueue) MarkSkipped(asin, resultRef string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.index[asin]
	if !ok {
		return
	}
	q.items[i].Status = domain.ItemStatusSkipped
	q.items[i].LastError = nil
	q.items[i].ResultRef = &resultRef
}

// MarkFailure records a failed fetch attempt. The item returns to pending for
// a later batch until maxAttempts is reached, then becomes failed. Returns
// true if the item will be retried.
func (q *ItemQueue) MarkFailure(asin, reason string, maxAttempts int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.index[asin]
	if !ok {
		return false
	}
	q.items[i].Attempts++
	q.items[i].LastError = &reason

	if q.items[i].Attempts < maxAttempts {
		q.items[i].Status = domain.ItemStatusPending
		return true
	}
	q.items[i].Status = domain.ItemStatusFailed
	return false
}

// Release returns a claimed item to pending without consuming an attempt.
// Used when a worker never started its fetch (cancellation between claim and
// fetch).
func (q *ItemQueue) Release(asin string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.index[asin]
	if !ok {
		return
	}
	if q.items[i].Status == domain.ItemStatusInProgress {
		q.items[i].Status = domain.ItemStatusPending
	}
}

// PendingCount returns the number of items still pending.
func (q *ItemQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for i := range q.items {
		if q.items[i].Status == domain.ItemStatusPending {
			count++
		}
	}
	return count
}

// Len returns the total number of items.
func (q *ItemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of all items in insertion order.
func (q *ItemQueue) Snapshot() []domain.Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]domain.Item, len(q.items))
	copy(items, q.items)
	return items
}
