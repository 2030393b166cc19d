package p2p

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const dedupWindow = 5 * time.Minute

type dedupKey struct {
	from uint32
	id   uuid.UUID
}

// Dedup rejects replays within the 5-minute window,
// keyed by (from, id) rather than by id alone so replica ids can't collide
// across peers reusing the same uuid space.
type Dedup struct {
	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[dedupKey]time.Time)}
}

// Admit returns true the first time (from, id) is seen within the window,
// false for a replay. It also prunes anything older than the window.
func (d *Dedup) Admit(now time.Time, from uint32, id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.seen {
		if now.Sub(t) > dedupWindow {
			delete(d.seen, k)
		}
	}
	key := dedupKey{from: from, id: id}
	if t, ok := d.seen[key]; ok && now.Sub(t) <= dedupWindow {
		return false
	}
	d.seen[key] = now
	return true
}

const (
	defaultRetryBackoff    = 1 * time.Second
	defaultMaxRetryBackoff = 30 * time.Second
	defaultMaxReconnects   = 10
)

type pendingSend struct {
	msg       TransportMessage
	nextRetry time.Time
	backoff   time.Duration
	attempts  int
}

// RetryQueue retains reliable sends until their ACK arrives, resending on
// an exponential backoff. One instance guards one peer connection.
type RetryQueue struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingSend
	maxBack time.Duration
}

func NewRetryQueue() *RetryQueue {
	return &RetryQueue{pending: make(map[uuid.UUID]*pendingSend), maxBack: defaultMaxRetryBackoff}
}

func (q *RetryQueue) Track(now time.Time, msg TransportMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[msg.ID] = &pendingSend{msg: msg, nextRetry: now.Add(defaultRetryBackoff), backoff: defaultRetryBackoff}
}

// Ack clears a pending send once its ACK arrives.
func (q *RetryQueue) Ack(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

// DueForRetry returns (and reschedules) every pending send whose backoff
// has elapsed as of now.
func (q *RetryQueue) DueForRetry(now time.Time) []TransportMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []TransportMessage
	for _, p := range q.pending {
		if now.Before(p.nextRetry) {
			continue
		}
		due = append(due, p.msg)
		p.attempts++
		p.backoff *= 2
		if p.backoff > q.maxBack {
			p.backoff = q.maxBack
		}
		p.nextRetry = now.Add(p.backoff)
	}
	return due
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ReconnectBackoff returns the delay before reconnect attempt n (0-based),
// capped at defaultMaxReconnects worth of doubling.
func ReconnectBackoff(attempt int) time.Duration {
	if attempt > defaultMaxReconnects {
		attempt = defaultMaxReconnects
	}
	d := defaultRetryBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > defaultMaxRetryBackoff {
			return defaultMaxRetryBackoff
		}
	}
	return d
}
