package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/domain/user"
	"github.com/pricemate/service/internal/storage"
)

func TestApplyPriceUpdatesCommitsBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO price_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO price_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := New(db)
	now := time.Now().UTC()
	updates := []storage.PriceUpdate{
		{
			Product: catalog.Product{ID: "p1", CurrentPrice: 10, LowestPrice: 10, HighestPrice: 12, LastFetchedAt: &now},
			Record:  catalog.PriceRecord{ProductID: "p1", Price: 10, RecordedAt: now},
		},
		{
			Product: catalog.Product{ID: "p2", CurrentPrice: 20, LowestPrice: 18, HighestPrice: 20, LastFetchedAt: &now},
			Record:  catalog.PriceRecord{ProductID: "p2", Price: 20, RecordedAt: now},
		},
	}

	if err := store.ApplyPriceUpdates(context.Background(), updates); err != nil {
		t.Fatalf("apply price updates: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyPriceUpdatesRollsBackOnMissingProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := New(db)
	now := time.Now().UTC()
	updates := []storage.PriceUpdate{
		{
			Product: catalog.Product{ID: "missing", CurrentPrice: 10},
			Record:  catalog.PriceRecord{ProductID: "missing", Price: 10, RecordedAt: now},
		},
	}

	err = store.ApplyPriceUpdates(context.Background(), updates)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	store := New(db)
	_, err = store.CreateUser(context.Background(), user.User{Email: "dup@example.com", PasswordHash: "x"})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{Email: "it@example.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	p, err := store.CreateProduct(ctx, catalog.Product{ASIN: "B0TESTASIN", Title: "Integration Widget"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	target := 25.0
	item, err := store.CreateTrackedItem(ctx, tracking.TrackedItem{UserID: u.ID, ProductID: p.ID, TargetPrice: &target, IsActive: true})
	if err != nil {
		t.Fatalf("create tracked item: %v", err)
	}

	queue, err := store.ListFetchQueue(ctx)
	if err != nil {
		t.Fatalf("list fetch queue: %v", err)
	}
	found := false
	for _, q := range queue {
		if q.ID == p.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("tracked product missing from fetch queue")
	}

	now := time.Now().UTC()
	p.CurrentPrice = 19.99
	p.LowestPrice = 19.99
	p.HighestPrice = 19.99
	p.LastFetchedAt = &now
	err = store.ApplyPriceUpdates(ctx, []storage.PriceUpdate{{
		Product: p,
		Record:  catalog.PriceRecord{ProductID: p.ID, Price: 19.99, RecordedAt: now},
	}})
	if err != nil {
		t.Fatalf("apply price updates: %v", err)
	}

	candidates, err := store.ListAlertCandidates(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("list alert candidates: %v", err)
	}
	found = false
	for _, c := range candidates {
		if c.Item.ID == item.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("tracked item missing from alert candidates")
	}
}
