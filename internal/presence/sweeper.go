// Package presence marks users offline once their heartbeat goes stale.
package presence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

type Store interface {
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

type Sweeper struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	cron    *cron.Cron
}

// NewSweeper builds a sweeper that treats users silent for longer than
// timeout as offline.
func NewSweeper(store Store, timeout time.Duration) *Sweeper {
	return &Sweeper{store: store, timeout: timeout, now: time.Now}
}

// Start runs Sweep on schedule, a standard cron spec or a descriptor such
// as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			log.Printf("[PRESENCE] sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule presence sweep %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.MarkStaleOffline(ctx, s.now().Add(-s.timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[PRESENCE] marked %d users offline", n)
	}
	return n, nil
}
