package grant

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically runs the engine's expiry sweep in the background.
// It exists to keep stored statuses tidy for reporting; access control is
// already enforced at read time by CheckAccess.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   zerolog.Logger
	done     chan struct{}
}

// NewSweeper creates a sweeper; interval defaults to 5 minutes when
// non-positive. Call Start to begin sweeping.
func NewSweeper(engine *Engine, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	go s.loop()
}

// Close stops the sweep loop. Safe to call multiple times.
func (s *Sweeper) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.engine.SweepExpired(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("grant expiry sweep failed")
			}
		}
	}
}
