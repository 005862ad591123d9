package exec

import (
	"context"
	"sync"

	"dkvbatch/internal/partition"
	"golang.org/x/time/rate"
)

// RetryPacer throttles how fast a single node may be re-dispatched
// against on retry, grounded on the teacher's FlowWriter.limiter
// (internal/replica/flow_writer.go): a per-target rate.Limiter that
// defaults to unlimited and can be tightened at runtime. Here the
// target is a node instead of a replication flow, and what's being
// throttled is retry/connection-acquisition attempts rather than
// writes, so a node stuck timing out doesn't spin the sync worker pool
// or the async retry fan-out into a busy loop against it.
type RetryPacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	qps      rate.Limit
	burst    int
}

// NewRetryPacer returns a pacer with no throttling applied.
func NewRetryPacer() *RetryPacer {
	return &RetryPacer{limiters: make(map[string]*rate.Limiter), qps: rate.Inf, burst: 1}
}

// SetLimit bounds every node's retry dispatch rate to qps attempts per
// second with the given burst. qps <= 0 removes the bound.
func (p *RetryPacer) SetLimit(qps float64, burst int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qps <= 0 {
		p.qps, p.burst = rate.Inf, 1
	} else {
		p.qps, p.burst = rate.Limit(qps), burst
	}
	for _, l := range p.limiters {
		l.SetLimit(p.qps)
		l.SetBurst(p.burst)
	}
}

// Wait blocks until node's retry budget allows another dispatch, or
// ctx is done. Unthrottled pacers (the default) return immediately.
func (p *RetryPacer) Wait(ctx context.Context, node partition.NodeRef) error {
	p.mu.Lock()
	l, ok := p.limiters[node.ID]
	if !ok {
		l = rate.NewLimiter(p.qps, p.burst)
		p.limiters[node.ID] = l
	}
	unlimited := l.Limit() == rate.Inf
	p.mu.Unlock()
	if unlimited {
		return nil
	}
	return l.Wait(ctx)
}
