// Package maintenance runs scheduled housekeeping jobs.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/internal/system"
	"github.com/pricemate/service/pkg/logger"
)

var _ system.Service = (*AverageRecalculator)(nil)

// AverageRecalculator refreshes every product's average price from its full
// history on a nightly schedule. The fetch cycle only maintains the running
// lowest/highest bounds, so the mean is recomputed here.
type AverageRecalculator struct {
	products storage.ProductStore
	log      *logger.Logger
	schedule string
	cron     *cron.Cron
}

// NewAverageRecalculator creates the nightly job. An empty schedule defaults
// to @daily.
func NewAverageRecalculator(products storage.ProductStore, schedule string, log *logger.Logger) (*AverageRecalculator, error) {
	if products == nil {
		return nil, errors.New("maintenance: product store required")
	}
	if schedule == "" {
		schedule = "@daily"
	}
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	return &AverageRecalculator{
		products: products,
		log:      log,
		schedule: schedule,
	}, nil
}

func (a *AverageRecalculator) Name() string { return "average-recalculator" }

func (a *AverageRecalculator) Start(ctx context.Context) error {
	if a.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(a.schedule, func() { a.run(context.Background()) })
	if err != nil {
		return err
	}
	a.cron = c
	c.Start()
	a.log.WithField("schedule", a.schedule).Info("average recalculator started")
	return nil
}

func (a *AverageRecalculator) Stop(ctx context.Context) error {
	if a.cron == nil {
		return nil
	}
	stopCtx := a.cron.Stop()
	a.cron = nil

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.log.Info("average recalculator stopped")
	return nil
}

// run executes one recompute pass. Errors are logged, never fatal.
func (a *AverageRecalculator) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	changed, err := a.products.RecomputeAveragePrices(ctx)
	if err != nil {
		a.log.WithError(err).Error("average price recompute failed")
		return
	}
	a.log.WithField("products", changed).Info("average prices recomputed")
}
