package slack

import (
	"context"
	"sync"
	"time"
)

// Pacer is a token bucket spacing outbound sends to the platform rate limit.
type Pacer struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewPacer(maxBurst int, ratePerMinute float64) *Pacer {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60 // one send per second default
	}
	return &Pacer{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

func (p *Pacer) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(p.lastTime).Seconds()
		p.tokens += elapsed * p.rate
		if p.tokens > p.max {
			p.tokens = p.max
		}
		p.lastTime = now

		if p.tokens >= 1.0 {
			p.tokens -= 1.0
			p.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - p.tokens) / p.rate
		p.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
