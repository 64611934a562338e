package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Actions charged against the quotas. Chat costs one token from both the
// general and the chat bucket.
const (
	ActionGeneral = "general"
	ActionChat    = "chat"
)

// Quota is a per-minute token bucket specification.
type Quota struct {
	PerMinute int
	Burst     int
}

func (q Quota) limiter() *rate.Limiter {
	burst := q.Burst
	if burst <= 0 {
		burst = q.PerMinute
	}
	return rate.NewLimiter(rate.Limit(float64(q.PerMinute)/60.0), burst)
}

type bucketPair struct {
	general  *rate.Limiter
	chat     *rate.Limiter
	lastSeen time.Time
}

// Quotas keeps one general and one chat bucket per key. It is not safe for
// concurrent use; the engine loop owns it.
type Quotas struct {
	general Quota
	chat    Quota
	buckets map[string]*bucketPair
}

func NewQuotas(general, chat Quota) *Quotas {
	return &Quotas{
		general: general,
		chat:    chat,
		buckets: make(map[string]*bucketPair),
	}
}

// Allow charges action for key at now. A denied action consumes nothing and
// reports how long until it would be admitted.
func (q *Quotas) Allow(key, action string, now time.Time) (bool, time.Duration) {
	b, ok := q.buckets[key]
	if !ok {
		b = &bucketPair{general: q.general.limiter(), chat: q.chat.limiter()}
		q.buckets[key] = b
	}
	b.lastSeen = now

	limiters := []*rate.Limiter{b.general}
	if action == ActionChat {
		limiters = append(limiters, b.chat)
	}

	reservations := make([]*rate.Reservation, 0, len(limiters))
	var wait time.Duration
	denied := false
	for _, l := range limiters {
		r := l.ReserveN(now, 1)
		reservations = append(reservations, r)
		if !r.OK() {
			denied = true
			wait = max(wait, time.Minute)
			continue
		}
		if d := r.DelayFrom(now); d > 0 {
			denied = true
			wait = max(wait, d)
		}
	}
	if denied {
		for _, r := range reservations {
			r.CancelAt(now)
		}
		return false, wait
	}
	return true, 0
}

// Forget drops the buckets of key, typically on disconnect.
func (q *Quotas) Forget(key string) {
	delete(q.buckets, key)
}

// Prune drops buckets untouched for longer than idle.
func (q *Quotas) Prune(now time.Time, idle time.Duration) int {
	n := 0
	for key, b := range q.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(q.buckets, key)
			n++
		}
	}
	return n
}

func (q *Quotas) Len() int {
	return len(q.buckets)
}
