package mining

import (
	"context"
	"time"

	"github.com/campusmine/campusmine/logger"
)

// Sweeper drives periodic sweep passes so no session accrues past its
// window if the owning client never asks to stop. Safe to overlap with
// manual stops and with itself: the close claim makes every finalize
// idempotent.
type Sweeper struct {
	ctrl     *Controller
	interval time.Duration
	stopCh   chan struct{}
}

func NewSweeper(ctrl *Controller, interval time.Duration) *Sweeper {
	return &Sweeper{ctrl: ctrl, interval: interval, stopCh: make(chan struct{})}
}

// Start runs one immediate pass, clearing anything left over from a
// prior process lifetime, then sweeps on the configured interval.
func (s *Sweeper) Start() { go s.loop() }

func (s *Sweeper) loop() {
	s.runOnce()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) runOnce() {
	res, err := s.ctrl.Sweep(context.Background())
	if err != nil {
		logger.WithFields(logger.Fields{"module": "mining.sweeper"}).WithError(err).Error("sweep pass failed")
		return
	}
	if res.Scanned > 0 {
		logger.WithFields(logger.Fields{"module": "mining.sweeper", "scanned": res.Scanned, "closed": res.Closed, "skipped": res.Skipped, "failed": res.Failed}).Info("sweep pass done")
	}
}

func (s *Sweeper) Stop() { close(s.stopCh) }
