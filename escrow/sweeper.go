package escrow

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically force-expires pending contracts whose deadline
// has passed. It is owned by the composition root, which hands it a
// context to stop on; the clock is injected so tests can sweep without
// waiting on a real timer.
type Sweeper struct {
	store    *Store
	machine  *Machine
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewSweeper(store *Store, machine *Machine, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		machine:  machine,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the sweeper's clock. Tests only.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on a fixed ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce expires every overdue pending contract, tolerating per-row
// failures: a contract confirmed a moment before the sweep simply loses
// the race and is skipped, it never aborts the batch. Returns how many
// contracts were expired.
func (s *Sweeper) SweepOnce() int {
	overdue, err := s.store.ListExpirable(s.now())
	if err != nil {
		s.logger.Error("expiry sweep query failed", "error", err)
		return 0
	}

	expired := 0
	for _, contract := range overdue {
		_, err := s.machine.Apply(contract.ContractCode, EventExpire, Actor{System: true}, TransitionMeta{})
		if err != nil {
			// Lost a race with a confirmation or cancellation.
			s.logger.Warn("skipping contract during sweep",
				"contract_code", contract.ContractCode, "error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("expiry sweep finished", "expired", expired, "candidates", len(overdue))
	}
	return expired
}
