package feedcache

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/jpalmerr/pollster/internal/atom"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned by [Cache.Get] when no header is cached for a feed.
var ErrNotFound = errors.New("feed not cached")

// Record is a cached feed header and the time it was written.
type Record struct {
	Feed      *atom.Feed
	FetchedAt time.Time
}

// Cache is a SQLite-backed feed header cache. It is safe for concurrent use.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the cache database at path and applies
// pending migrations.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Cache{db: db, now: time.Now}, nil
}

// runMigrations applies all pending migrations and returns the schema version.
func runMigrations(db *sql.DB) (uint, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Put stores the header of f, replacing any previous header for the same
// feed id. Entries are not stored.
func (c *Cache) Put(ctx context.Context, f *atom.Feed) error {
	if f == nil || f.ID == "" {
		return errors.New("feed header requires an id")
	}

	authors, err := json.Marshal(f.Authors)
	if err != nil {
		return fmt.Errorf("encoding authors: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO feeds (feed_id, title, subtitle, icon, logo, authors, updated, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET
			title = excluded.title,
			subtitle = excluded.subtitle,
			icon = excluded.icon,
			logo = excluded.logo,
			authors = excluded.authors,
			updated = excluded.updated,
			fetched_at = excluded.fetched_at
	`, key(f.ID), f.Title, f.Subtitle, f.Icon, f.Logo, string(authors), f.Updated, c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting feed %s: %w", f.ID, err)
	}
	return nil
}

// Get returns the cached header for feedID. Bare and urn-prefixed ids
// address the same record.
func (c *Cache) Get(ctx context.Context, feedID string) (Record, error) {
	var (
		f         atom.Feed
		authors   string
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT feed_id, title, subtitle, icon, logo, authors, updated, fetched_at
		FROM feeds WHERE feed_id = ?
	`, key(feedID)).Scan(&f.ID, &f.Title, &f.Subtitle, &f.Icon, &f.Logo, &authors, &f.Updated, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("querying feed %s: %w", feedID, err)
	}

	if err := json.Unmarshal([]byte(authors), &f.Authors); err != nil {
		return Record{}, fmt.Errorf("decoding authors of %s: %w", feedID, err)
	}
	f.ID = atom.FeedURNPrefix + f.ID

	return Record{Feed: &f, FetchedAt: time.UnixMilli(fetchedAt)}, nil
}

// Len returns the number of cached headers.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feeds`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting feeds: %w", err)
	}
	return n, nil
}

func key(feedID string) string {
	return atom.FeedIDFromFeedURN(feedID)
}
