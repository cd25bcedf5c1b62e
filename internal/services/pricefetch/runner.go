package pricefetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pricemate/service/internal/system"
	"github.com/pricemate/service/pkg/logger"
)

var _ system.Service = (*Runner)(nil)

// Runner drives the fetch service on a fixed interval. The first cycle runs
// immediately on start so a fresh deployment does not wait a full interval.
type Runner struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner creates a lifecycle-managed fetch loop.
func NewRunner(service *Service, interval time.Duration, log *logger.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Hour
	}
	if log == nil {
		log = logger.NewDefault("pricefetch-runner")
	}
	return &Runner{
		service:  service,
		log:      log,
		interval: interval,
	}
}

func (r *Runner) Name() string { return "pricefetch-runner" }

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.WithField("interval", r.interval.String()).Info("price fetch runner started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("price fetch runner stopped")
	return nil
}

// tick runs one cycle. Cycle errors are logged, never fatal: the next tick
// gets a fresh attempt.
func (r *Runner) tick(ctx context.Context) {
	if r.service == nil {
		return
	}
	err := r.service.RunCycle(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.WithError(err).Error("price fetch cycle failed")
	}
}
