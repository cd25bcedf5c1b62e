// Package app wires the services together and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pricemate/service/internal/config"
	"github.com/pricemate/service/internal/services/alerts"
	"github.com/pricemate/service/internal/services/amazon"
	"github.com/pricemate/service/internal/services/dashboard"
	"github.com/pricemate/service/internal/services/deals"
	"github.com/pricemate/service/internal/services/mailer"
	"github.com/pricemate/service/internal/services/maintenance"
	"github.com/pricemate/service/internal/services/pricefetch"
	productssvc "github.com/pricemate/service/internal/services/products"
	trackingsvc "github.com/pricemate/service/internal/services/tracking"
	userssvc "github.com/pricemate/service/internal/services/users"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/internal/storage/memory"
	"github.com/pricemate/service/internal/system"
	"github.com/pricemate/service/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Products   storage.ProductStore
	Records    storage.PriceRecordStore
	Tracked    storage.TrackedItemStore
	Alerts     storage.AlertStore
	Users      storage.UserStore
	Categories storage.CategoryStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Products  *productssvc.Service
	Tracking  *trackingsvc.Service
	Deals     *deals.Service
	Dashboard *dashboard.Service
	Users     *userssvc.Service
	Alerts    *alerts.Checker

	Categories storage.CategoryStore
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Products == nil {
		stores.Products = mem
	}
	if stores.Records == nil {
		stores.Records = mem
	}
	if stores.Tracked == nil {
		stores.Tracked = mem
	}
	if stores.Alerts == nil {
		stores.Alerts = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Categories == nil {
		stores.Categories = mem
	}

	manager := system.NewManager()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var catalogClient *amazon.Client
	if cfg.Amazon.Configured() {
		client, err := amazon.NewClient(amazon.Config{
			AccessKey:   cfg.Amazon.AccessKey,
			SecretKey:   cfg.Amazon.SecretKey,
			PartnerTag:  cfg.Amazon.PartnerID,
			Host:        cfg.Amazon.Host,
			Region:      cfg.Amazon.Region,
			Marketplace: cfg.Amazon.Marketplace,
		}, httpClient, log)
		if err != nil {
			return nil, fmt.Errorf("configure catalog client: %w", err)
		}
		catalogClient = client
	} else {
		log.Warn("AMAZON_ACCESS_KEY/AMAZON_SECRET_KEY not set; catalog access disabled")
	}

	var searchClient productssvc.SearchClient
	if catalogClient != nil {
		searchClient = catalogClient
	}
	productService, err := productssvc.New(stores.Products, stores.Records, stores.Categories, searchClient, log)
	if err != nil {
		return nil, err
	}
	trackingService, err := trackingsvc.New(stores.Tracked, stores.Products, productService, log)
	if err != nil {
		return nil, err
	}
	dealService, err := deals.New(stores.Products, stores.Records, log)
	if err != nil {
		return nil, err
	}
	dashboardService, err := dashboard.New(stores.Tracked, stores.Products, stores.Records, log)
	if err != nil {
		return nil, err
	}
	userService, err := userssvc.New(stores.Users, log)
	if err != nil {
		return nil, err
	}

	var mailChannel alerts.Mailer
	if cfg.Mailer.URL != "" {
		httpMailer, err := mailer.NewHTTP(cfg.Mailer.URL, cfg.Mailer.APIKey, cfg.Mailer.From, httpClient, log)
		if err != nil {
			return nil, fmt.Errorf("configure mailer: %w", err)
		}
		mailChannel = httpMailer
	} else {
		log.Warn("MAILER_URL not set; price drop alerts will be logged and dropped")
		mailChannel = mailer.NewNoop(log)
	}

	alertChecker, err := alerts.New(stores.Tracked, stores.Alerts, mailChannel, log)
	if err != nil {
		return nil, err
	}

	if catalogClient != nil {
		fetchService, err := pricefetch.New(stores.Products, catalogClient, alertChecker, cfg.Fetch.BatchSize, log)
		if err != nil {
			return nil, err
		}
		runner := pricefetch.NewRunner(fetchService, cfg.Fetch.Interval, log)
		if err := manager.Register(runner); err != nil {
			return nil, fmt.Errorf("register %s: %w", runner.Name(), err)
		}
	} else {
		log.Warn("price fetch runner disabled without catalog access")
	}

	recalc, err := maintenance.NewAverageRecalculator(stores.Products, "", log)
	if err != nil {
		return nil, err
	}
	if err := manager.Register(recalc); err != nil {
		return nil, fmt.Errorf("register %s: %w", recalc.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Products:   productService,
		Tracking:   trackingService,
		Deals:      dealService,
		Dashboard:  dashboardService,
		Users:      userService,
		Alerts:     alertChecker,
		Categories: stores.Categories,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
