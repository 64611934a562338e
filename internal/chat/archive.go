package chat

import (
	"sort"
	"time"
)

// DefaultArchiveSize bounds the terminal records kept for statistics.
const DefaultArchiveSize = 1000

// Record is the terminal summary of a closed session.
type Record struct {
	ID           string
	CountryPair  string
	CreatedAt    time.Time
	ClosedAt     time.Time
	Duration     time.Duration
	MessageCount int
	Media        bool
	Reason       string
	Tags         []string
}

// CountryPairCount is one row of the top country pairs.
type CountryPairCount struct {
	Pair  string `json:"pair"`
	Count int    `json:"count"`
}

// Archive is a ring of the most recent terminal records.
type Archive struct {
	records []Record
	next    int
	full    bool
}

func NewArchive(size int) *Archive {
	if size <= 0 {
		size = DefaultArchiveSize
	}
	return &Archive{records: make([]Record, size)}
}

func (a *Archive) Add(r Record) {
	a.records[a.next] = r
	a.next = (a.next + 1) % len(a.records)
	if a.next == 0 {
		a.full = true
	}
}

func (a *Archive) Len() int {
	if a.full {
		return len(a.records)
	}
	return a.next
}

// Records returns the archive oldest first.
func (a *Archive) Records() []Record {
	n := a.Len()
	out := make([]Record, 0, n)
	start := 0
	if a.full {
		start = a.next
	}
	for i := 0; i < n; i++ {
		out = append(out, a.records[(start+i)%len(a.records)])
	}
	return out
}

func (a *Archive) AverageDuration() time.Duration {
	n := a.Len()
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += a.records[i].Duration
	}
	return total / time.Duration(n)
}

func (a *Archive) AverageMessages() float64 {
	n := a.Len()
	if n == 0 {
		return 0
	}
	total := 0
	for i := 0; i < n; i++ {
		total += a.records[i].MessageCount
	}
	return float64(total) / float64(n)
}

// TopCountryPairs ranks archived country pairs by frequency, ties broken
// alphabetically.
func (a *Archive) TopCountryPairs(limit int) []CountryPairCount {
	counts := make(map[string]int)
	for i := 0; i < a.Len(); i++ {
		counts[a.records[i].CountryPair]++
	}
	out := make([]CountryPairCount, 0, len(counts))
	for pair, c := range counts {
		out = append(out, CountryPairCount{Pair: pair, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pair < out[j].Pair
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
