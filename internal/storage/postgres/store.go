// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/domain/user"
	"github.com/pricemate/service/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ProductStore = (*Store)(nil)
var _ storage.PriceRecordStore = (*Store)(nil)
var _ storage.TrackedItemStore = (*Store)(nil)
var _ storage.AlertStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.CategoryStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const productColumns = `id, asin, title, image_url, detail_url, category_id, current_price, lowest_price, highest_price, average_price, last_fetched_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (catalog.Product, error) {
	var (
		p           catalog.Product
		categoryID  sql.NullString
		lastFetched sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ASIN, &p.Title, &p.ImageURL, &p.DetailURL, &categoryID, &p.CurrentPrice, &p.LowestPrice, &p.HighestPrice, &p.AveragePrice, &lastFetched, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, err
	}
	if categoryID.Valid {
		p.CategoryID = categoryID.String
	}
	if lastFetched.Valid {
		t := lastFetched.Time.UTC()
		p.LastFetchedAt = &t
	}
	return p, nil
}

// --- ProductStore -----------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.ASIN, p.Title, p.ImageURL, p.DetailURL, toNullString(p.CategoryID), p.CurrentPrice, p.LowestPrice, p.HighestPrice, p.AveragePrice, toNullTimePtr(p.LastFetchedAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, mapError(err)
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	existing, err := s.GetProduct(ctx, p.ID)
	if err != nil {
		return catalog.Product{}, err
	}

	p.ASIN = existing.ASIN
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET title = $2, image_url = $3, detail_url = $4, category_id = $5, current_price = $6, lowest_price = $7, highest_price = $8, average_price = $9, last_fetched_at = $10, updated_at = $11
		WHERE id = $1
	`, p.ID, p.Title, p.ImageURL, p.DetailURL, toNullString(p.CategoryID), p.CurrentPrice, p.LowestPrice, p.HighestPrice, p.AveragePrice, toNullTimePtr(p.LastFetchedAt), p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)

	p, err := scanProduct(row)
	if err != nil {
		return catalog.Product{}, mapError(err)
	}
	return p, nil
}

func (s *Store) GetProductByASIN(ctx context.Context, asin string) (catalog.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE asin = $1
	`, asin)

	p, err := scanProduct(row)
	if err != nil {
		return catalog.Product{}, mapError(err)
	}
	return p, nil
}

func (s *Store) SearchProducts(ctx context.Context, query, cursor string, limit int) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE (asin = $1 OR title ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR id > $2)
		ORDER BY id
		LIMIT NULLIF($3, 0)
	`, query, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectProducts(rows)
}

func (s *Store) ListFetchQueue(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.asin, p.title, p.image_url, p.detail_url, p.category_id, p.current_price, p.lowest_price, p.highest_price, p.average_price, p.last_fetched_at, p.created_at, p.updated_at
		FROM products p
		JOIN tracked_items t ON t.product_id = p.id AND t.is_active
		ORDER BY p.last_fetched_at ASC NULLS FIRST, p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectProducts(rows)
}

func (s *Store) ApplyPriceUpdates(ctx context.Context, updates []storage.PriceUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, u := range updates {
		p := u.Product
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET title = $2, image_url = $3, detail_url = $4, current_price = $5, lowest_price = $6, highest_price = $7, last_fetched_at = $8, updated_at = $9
			WHERE id = $1
		`, p.ID, p.Title, p.ImageURL, p.DetailURL, p.CurrentPrice, p.LowestPrice, p.HighestPrice, toNullTimePtr(p.LastFetchedAt), now)
		if err != nil {
			return mapError(err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return storage.ErrNotFound
		}

		rec := u.Record
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO price_records (id, product_id, price, recorded_at)
			VALUES ($1, $2, $3, $4)
		`, rec.ID, p.ID, rec.Price, rec.RecordedAt)
		if err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListDeals(ctx context.Context, categorySlug, cursor string, limit int) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.asin, p.title, p.image_url, p.detail_url, p.category_id, p.current_price, p.lowest_price, p.highest_price, p.average_price, p.last_fetched_at, p.created_at, p.updated_at
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.highest_price > p.current_price
		  AND ($1 = '' OR c.slug = $1)
		  AND ($2 = '' OR p.id > $2)
		ORDER BY (p.highest_price - p.current_price) / p.highest_price DESC, p.id
		LIMIT NULLIF($3, 0)
	`, categorySlug, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectProducts(rows)
}

func (s *Store) RecomputeAveragePrices(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products p
		SET average_price = agg.avg_price, updated_at = $1
		FROM (
			SELECT product_id, AVG(price) AS avg_price
			FROM price_records
			GROUP BY product_id
		) agg
		WHERE agg.product_id = p.id
		  AND p.average_price IS DISTINCT FROM agg.avg_price
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func collectProducts(rows *sql.Rows) ([]catalog.Product, error) {
	var result []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- PriceRecordStore -------------------------------------------------------

func (s *Store) ListPriceRecords(ctx context.Context, productID string, since *time.Time) ([]catalog.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, price, recorded_at
		FROM price_records
		WHERE product_id = $1
		  AND ($2::timestamptz IS NULL OR recorded_at >= $2)
		ORDER BY recorded_at DESC
	`, productID, toNullTimePtr(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPriceRecords(rows)
}

func (s *Store) LatestPriceRecords(ctx context.Context, productID string, limit int) ([]catalog.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, price, recorded_at
		FROM price_records
		WHERE product_id = $1
		ORDER BY recorded_at DESC
		LIMIT NULLIF($2, 0)
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPriceRecords(rows)
}

func collectPriceRecords(rows *sql.Rows) ([]catalog.PriceRecord, error) {
	var result []catalog.PriceRecord
	for rows.Next() {
		var rec catalog.PriceRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Price, &rec.RecordedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- TrackedItemStore -------------------------------------------------------

func (s *Store) CreateTrackedItem(ctx context.Context, item tracking.TrackedItem) (tracking.TrackedItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_items (id, user_id, product_id, target_price, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, item.ProductID, toNullFloat(item.TargetPrice), item.IsActive, item.CreatedAt)
	if err != nil {
		return tracking.TrackedItem{}, mapError(err)
	}
	return item, nil
}

func (s *Store) UpdateTrackedItem(ctx context.Context, item tracking.TrackedItem) (tracking.TrackedItem, error) {
	existing, err := s.GetTrackedItem(ctx, item.ID)
	if err != nil {
		return tracking.TrackedItem{}, err
	}

	item.UserID = existing.UserID
	item.ProductID = existing.ProductID
	item.CreatedAt = existing.CreatedAt

	result, err := s.db.ExecContext(ctx, `
		UPDATE tracked_items
		SET target_price = $2, is_active = $3
		WHERE id = $1
	`, item.ID, toNullFloat(item.TargetPrice), item.IsActive)
	if err != nil {
		return tracking.TrackedItem{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return tracking.TrackedItem{}, storage.ErrNotFound
	}
	return item, nil
}

func (s *Store) GetTrackedItem(ctx context.Context, id string) (tracking.TrackedItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, target_price, is_active, created_at
		FROM tracked_items
		WHERE id = $1
	`, id)

	item, err := scanTrackedItem(row)
	if err != nil {
		return tracking.TrackedItem{}, mapError(err)
	}
	return item, nil
}

func (s *Store) DeleteTrackedItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tracked_items WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListTrackedItems(ctx context.Context, userID string) ([]tracking.TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, product_id, target_price, is_active, created_at
		FROM tracked_items
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tracking.TrackedItem
	for rows.Next() {
		item, err := scanTrackedItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) FindTrackedItem(ctx context.Context, userID, productID string) (tracking.TrackedItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, target_price, is_active, created_at
		FROM tracked_items
		WHERE user_id = $1 AND product_id = $2
	`, userID, productID)

	item, err := scanTrackedItem(row)
	if err != nil {
		return tracking.TrackedItem{}, mapError(err)
	}
	return item, nil
}

func (s *Store) ListAlertCandidates(ctx context.Context, cutoff time.Time) ([]storage.AlertCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.product_id, t.target_price, t.is_active, t.created_at,
		       p.id, p.asin, p.title, p.image_url, p.detail_url, p.category_id, p.current_price, p.lowest_price, p.highest_price, p.average_price, p.last_fetched_at, p.created_at, p.updated_at,
		       u.id, u.email, u.password_hash, u.created_at
		FROM tracked_items t
		JOIN products p ON p.id = t.product_id
		JOIN users u ON u.id = t.user_id
		WHERE t.is_active
		  AND t.target_price IS NOT NULL
		  AND p.current_price <= t.target_price
		  AND NOT EXISTS (
			SELECT 1 FROM alerts a
			WHERE a.tracked_item_id = t.id AND a.sent_at > $1
		  )
		ORDER BY t.id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.AlertCandidate
	for rows.Next() {
		var (
			cand        storage.AlertCandidate
			targetPrice sql.NullFloat64
			categoryID  sql.NullString
			lastFetched sql.NullTime
		)
		err := rows.Scan(
			&cand.Item.ID, &cand.Item.UserID, &cand.Item.ProductID, &targetPrice, &cand.Item.IsActive, &cand.Item.CreatedAt,
			&cand.Product.ID, &cand.Product.ASIN, &cand.Product.Title, &cand.Product.ImageURL, &cand.Product.DetailURL, &categoryID, &cand.Product.CurrentPrice, &cand.Product.LowestPrice, &cand.Product.HighestPrice, &cand.Product.AveragePrice, &lastFetched, &cand.Product.CreatedAt, &cand.Product.UpdatedAt,
			&cand.User.ID, &cand.User.Email, &cand.User.PasswordHash, &cand.User.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if targetPrice.Valid {
			v := targetPrice.Float64
			cand.Item.TargetPrice = &v
		}
		if categoryID.Valid {
			cand.Product.CategoryID = categoryID.String
		}
		if lastFetched.Valid {
			t := lastFetched.Time.UTC()
			cand.Product.LastFetchedAt = &t
		}
		result = append(result, cand)
	}
	return result, rows.Err()
}

func scanTrackedItem(row rowScanner) (tracking.TrackedItem, error) {
	var (
		item        tracking.TrackedItem
		targetPrice sql.NullFloat64
	)
	if err := row.Scan(&item.ID, &item.UserID, &item.ProductID, &targetPrice, &item.IsActive, &item.CreatedAt); err != nil {
		return tracking.TrackedItem{}, err
	}
	if targetPrice.Valid {
		v := targetPrice.Float64
		item.TargetPrice = &v
	}
	return item, nil
}

// --- AlertStore -------------------------------------------------------------

func (s *Store) CreateAlerts(ctx context.Context, alerts []tracking.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, alert := range alerts {
		if alert.ID == "" {
			alert.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (id, tracked_item_id, alert_type, price_at_alert, sent_at)
			VALUES ($1, $2, $3, $4, $5)
		`, alert.ID, alert.TrackedItemID, string(alert.Type), alert.PriceAtAlert, alert.SentAt)
		if err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListAlerts(ctx context.Context, trackedItemID string) ([]tracking.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tracked_item_id, alert_type, price_at_alert, sent_at
		FROM alerts
		WHERE tracked_item_id = $1
		ORDER BY sent_at DESC
	`, trackedItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tracking.Alert
	for rows.Next() {
		var alert tracking.Alert
		if err := rows.Scan(&alert.ID, &alert.TrackedItemID, &alert.Type, &alert.PriceAtAlert, &alert.SentAt); err != nil {
			return nil, err
		}
		result = append(result, alert)
	}
	return result, rows.Err()
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, LOWER($2), $3, $4)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id)

	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE email = LOWER($1)
	`, email)

	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

// --- CategoryStore ----------------------------------------------------------

func (s *Store) CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.Name, c.Slug, c.CreatedAt)
	if err != nil {
		return catalog.Category{}, mapError(err)
	}
	return c, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (catalog.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at
		FROM categories
		WHERE id = $1
	`, id)

	var c catalog.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
		return catalog.Category{}, mapError(err)
	}
	return c, nil
}

func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (catalog.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at
		FROM categories
		WHERE slug = $1
	`, slug)

	var c catalog.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
		return catalog.Category{}, mapError(err)
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Category
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrDuplicate
	}
	return err
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
