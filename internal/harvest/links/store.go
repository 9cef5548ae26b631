// Package links owns the deduplicated link set. Every range's output is
// merged into one sqlite-backed map keyed by item id; the primary key is
// what enforces the "each item appears once" invariant, overlapping range
// boundaries included.
package links

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/links/db"
	"hemnet-harvester/lib/sqliteutil"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (Store, error) {
	database, err := sqliteutil.OpenDB(db.Schema, path)
	if err != nil {
		return Store{}, err
	}
	return Store{db: database}, nil
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

func (s Store) Close() error {
	return s.db.Close()
}

// Insert merges a page's links into the unique set. Returns how many were
// new; zero on a non-empty input means the page held only already-seen
// items.
func (s Store) Insert(ctx context.Context, found []harvest.ItemLink) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, link := range found {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO item_link (item_id, url, source_range, discovered_at)
			VALUES (?, ?, ?, ?)`,
			link.ItemID, link.URL, link.SourceRange, link.DiscoveredAt.Unix(),
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	return inserted, tx.Commit()
}

// All returns the consolidated unique link set in stable item-id order.
func (s Store) All(ctx context.Context) ([]harvest.ItemLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, url, source_range, discovered_at
		FROM item_link ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []harvest.ItemLink
	for rows.Next() {
		var link harvest.ItemLink
		var discovered int64
		err = rows.Scan(&link.ItemID, &link.URL, &link.SourceRange, &discovered)
		if err != nil {
			return nil, err
		}
		link.DiscoveredAt = time.Unix(discovered, 0)
		out = append(out, link)
	}
	return out, rows.Err()
}

func (s Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_link`).Scan(&count)
	return count, err
}

func fingerprint(itemID string) string {
	digest := sha256.Sum256([]byte(itemID))
	return hex.EncodeToString(digest[:])
}

// MarkFetched records that an item's detail record was durably persisted in
// the given batch. Only ever called after the batch file hit disk.
func (s Store) MarkFetched(ctx context.Context, itemIDs []string, batchID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range itemIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO fetched (item_id, fingerprint, batch_id)
			VALUES (?, ?, ?)`,
			id, fingerprint(id), batchID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FetchedSet returns the ids already persisted by previous runs; the batch
// manager filters its input against it so resume reprocesses nothing.
func (s Store) FetchedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM fetched`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		err = rows.Scan(&id)
		if err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
