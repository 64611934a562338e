package matching

// Prune removes every queued id for which keep returns false and returns the
// removed ids in queue order.
func Prune(q *Queue, keep func(id string) bool) []string {
	var removed []string
	for _, id := range q.IDs() {
		if keep(id) {
			continue
		}
		q.Dequeue(id)
		removed = append(removed, id)
	}
	return removed
}
