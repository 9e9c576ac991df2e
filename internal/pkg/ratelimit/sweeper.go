package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically drops expired window records to bound memory. It is
// an explicit lifecycle object owned by process initialization so tests can
// leave it stopped and drive time themselves; admission stays correct
// either way.
type Sweeper struct {
	store    Store
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.store.Sweep(time.Now()); removed > 0 {
					log.Debugf("[RateLimit] swept %d expired records", removed)
				}
			case <-stop:
				return
			}
		}
	}(s.stopCh)
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}
