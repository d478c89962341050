package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ikman_scrooper/identity"
	"ikman_scrooper/models"
)

// PostgresStore mirrors persisted listings into a queryable table. The JSON
// files stay the source of truth; the mirror is best effort.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			listing_id    TEXT PRIMARY KEY,
			source_url    TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			property_type TEXT NOT NULL DEFAULT '',
			price         NUMERIC,
			currency      TEXT NOT NULL DEFAULT 'LKR',
			location      TEXT NOT NULL DEFAULT '',
			area          TEXT NOT NULL DEFAULT '',
			area_sqft     NUMERIC,
			bedrooms      TEXT,
			bathrooms     TEXT,
			amenities     JSONB NOT NULL DEFAULT '[]',
			description   TEXT NOT NULL DEFAULT '',
			image_folder  TEXT NOT NULL DEFAULT '',
			image_urls    JSONB NOT NULL DEFAULT '[]',
			scraped_date  TEXT NOT NULL,
			content_hash  TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_location ON listings(location);
		CREATE INDEX IF NOT EXISTS idx_listings_price    ON listings(price);
	`)
	return err
}

// UpsertListing replaces the mirrored row for rec. Rows whose content hash
// is unchanged keep their updated_at.
func (s *PostgresStore) UpsertListing(ctx context.Context, rec *models.ListingRecord) error {
	amenities, err := json.Marshal(nonNil(rec.Amenities))
	if err != nil {
		return err
	}
	images, err := json.Marshal(nonNil(rec.ImageURLs))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO listings (
			listing_id, source_url, title, property_type, price, currency, location, area,
			area_sqft, bedrooms, bathrooms, amenities, description, image_folder, image_urls,
			scraped_date, content_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (listing_id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			title = EXCLUDED.title,
			property_type = EXCLUDED.property_type,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			location = EXCLUDED.location,
			area = EXCLUDED.area,
			area_sqft = EXCLUDED.area_sqft,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			amenities = EXCLUDED.amenities,
			description = EXCLUDED.description,
			image_folder = EXCLUDED.image_folder,
			image_urls = EXCLUDED.image_urls,
			scraped_date = EXCLUDED.scraped_date,
			content_hash = EXCLUDED.content_hash,
			updated_at = CASE WHEN listings.content_hash = EXCLUDED.content_hash
				THEN listings.updated_at ELSE NOW() END`

	_, err = s.pool.Exec(ctx, query,
		rec.ListingID, rec.SourceURL, rec.Title, rec.PropertyType, rec.Price, rec.Currency,
		rec.Location, rec.Area, rec.AreaSqFt, rec.Bedrooms, rec.Bathrooms, amenities,
		rec.Description, rec.ImageFolder, images, rec.ScrapedDate, identity.Fingerprint(rec),
	)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
