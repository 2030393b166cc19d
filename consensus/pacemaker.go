package consensus

import (
	"sync"
	"time"
)

// PacemakerConfig bounds the view timer: BaseTimeout is used after a
// successful view (or at startup), and each consecutive timeout without
// progress doubles the timer up to MaxTimeout, an exponential
// backoff" pacemaker.
type PacemakerConfig struct {
	BaseTimeout time.Duration
	MaxTimeout  time.Duration
}

func (c PacemakerConfig) timeoutFor(consecutiveFailures int) time.Duration {
	d := c.BaseTimeout
	for i := 0; i < consecutiveFailures; i++ {
		d *= 2
		if d >= c.MaxTimeout {
			return c.MaxTimeout
		}
	}
	return d
}

// Pacemaker drives view transitions: it fires LocalTimeout when a view's
// timer expires without a commit, and exposes NewRound so a caller
// (node/p2p_runtime.go) can reset the timer whenever the replica makes
// progress (votes, or learns of a higher view).
type Pacemaker struct {
	cfg PacemakerConfig

	mu          sync.Mutex
	timer       *time.Timer
	consecutive int
	view        uint64

	onTimeout func(view uint64)
}

// NewPacemaker constructs a Pacemaker; onTimeout is invoked (from an
// internal goroutine) whenever the current view's timer expires.
func NewPacemaker(cfg PacemakerConfig, onTimeout func(view uint64)) *Pacemaker {
	return &Pacemaker{cfg: cfg, onTimeout: onTimeout}
}

// NewRound (re)starts the timer for view, using the exponential-backoff
// duration for the current run of consecutive timeouts. Call this whenever
// the replica enters a new view, whether via a proposal, a QC, or a
// previous timeout.
func (p *Pacemaker) NewRound(view uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.view = view
	d := p.cfg.timeoutFor(p.consecutive)
	p.timer = time.AfterFunc(d, func() { p.fire(view) })
}

// ProgressMade resets the consecutive-timeout counter, called once a view
// commits or otherwise makes verified progress, (the backoff
// should shrink back down once the network recovers, not stay pinned at
// MaxTimeout forever).
func (p *Pacemaker) ProgressMade() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive = 0
}

func (p *Pacemaker) fire(view uint64) {
	p.mu.Lock()
	if view != p.view {
		p.mu.Unlock()
		return // already moved on; stale timer fire
	}
	p.consecutive++
	p.mu.Unlock()
	if p.onTimeout != nil {
		p.onTimeout(view)
	}
}

// Stop cancels the pending timer, e.g. on shutdown.
func (p *Pacemaker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}

// NewViewCollector gathers NewView messages for a target view until a
// quorum (2f+1) arrives, at which point the view's new leader can safely
// propose: it has proof that 2f+1 replicas abandoned the previous view and
// carries the highest QC any of them reported.
type NewViewCollector struct {
	quorum int

	mu    sync.Mutex
	seen  map[uint32]NewView
	fired bool
}

func NewNewViewCollector(quorum int) *NewViewCollector {
	return &NewViewCollector{quorum: quorum, seen: make(map[uint32]NewView)}
}

// Add records nv and reports the highest carried QC plus true once quorum
// is reached. Once fired, subsequent calls return ok=false; callers should
// construct a fresh collector per view.
func (c *NewViewCollector) Add(nv NewView) (highQC QuorumCert, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return QuorumCert{}, false
	}
	c.seen[nv.ReplicaID] = nv
	if len(c.seen) < c.quorum {
		return QuorumCert{}, false
	}
	var best QuorumCert
	first := true
	for _, v := range c.seen {
		if first || v.HighQC.View > best.View {
			best = v.HighQC
			first = false
		}
	}
	c.fired = true
	return best, true
}
