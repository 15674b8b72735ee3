package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"brassradar/models"
)

type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	// Single connection: every statement and transaction is serialized.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		item_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		marketplace TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		condition TEXT NOT NULL DEFAULT '',
		buying_options TEXT NOT NULL DEFAULT '',
		item_web_url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		image_path TEXT NOT NULL DEFAULT '',
		price_value REAL,
		price_currency TEXT NOT NULL DEFAULT '',
		shipping_value REAL,
		shipping_currency TEXT NOT NULL DEFAULT '',
		price_usd REAL,
		ship_usd REAL,
		current_bid_value REAL,
		current_bid_currency TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		date_found DATETIME NOT NULL,
		date_updated DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		item_id TEXT NOT NULL,
		observed_at DATETIME NOT NULL,
		price_value REAL,
		price_currency TEXT NOT NULL DEFAULT '',
		shipping_value REAL,
		shipping_currency TEXT NOT NULL DEFAULT '',
		price_usd REAL,
		ship_usd REAL,
		current_bid_value REAL,
		current_bid_currency TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (item_id, observed_at)
	);

	CREATE TABLE IF NOT EXISTS watchlist (
		item_id TEXT PRIMARY KEY,
		marketplace TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		added_at DATETIME NOT NULL,
		last_checked DATETIME,
		status TEXT NOT NULL DEFAULT 'WATCHING',
		final_price REAL,
		final_currency TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS credentials (
		slot TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pass_locks (
		name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pass_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		stats JSON,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
	CREATE INDEX IF NOT EXISTS idx_listings_market_brand ON listings(marketplace, brand);
	CREATE INDEX IF NOT EXISTS idx_watchlist_status ON watchlist(status);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_runs_kind ON pass_runs(kind, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) exec(ctx context.Context) sqlx.ExtContext {
	if tx := sqliteTx(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *SQLiteStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if sqliteTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, sqliteTxKey, tx)

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `item_id, title, brand, marketplace, country, condition, buying_options,
	item_web_url, image_url, image_path, price_value, price_currency, shipping_value,
	shipping_currency, price_usd, ship_usd, current_bid_value, current_bid_currency,
	end_time, status, date_found, date_updated`

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	row := normalizeListing(l)
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := sqlx.NamedExecContext(ctx, s.exec(ctx), `
			INSERT INTO listings (`+listingColumns+`)
			VALUES (:item_id, :title, :brand, :marketplace, :country, :condition, :buying_options,
				:item_web_url, :image_url, :image_path, :price_value, :price_currency, :shipping_value,
				:shipping_currency, :price_usd, :ship_usd, :current_bid_value, :current_bid_currency,
				:end_time, :status, :date_found, :date_updated)
			ON CONFLICT(item_id) DO UPDATE SET
				title = excluded.title,
				brand = excluded.brand,
				marketplace = excluded.marketplace,
				country = excluded.country,
				condition = excluded.condition,
				buying_options = excluded.buying_options,
				item_web_url = excluded.item_web_url,
				image_url = excluded.image_url,
				image_path = excluded.image_path,
				price_value = excluded.price_value,
				price_currency = excluded.price_currency,
				shipping_value = excluded.shipping_value,
				shipping_currency = excluded.shipping_currency,
				price_usd = excluded.price_usd,
				ship_usd = excluded.ship_usd,
				current_bid_value = excluded.current_bid_value,
				current_bid_currency = excluded.current_bid_currency,
				end_time = excluded.end_time,
				status = excluded.status,
				date_updated = excluded.date_updated`, row)
		if err != nil {
			return fmt.Errorf("upsert listing %s: %w", l.ItemID, err)
		}

		obs := models.ObservationOf(row)
		_, err = sqlx.NamedExecContext(ctx, s.exec(ctx), `
			INSERT INTO price_history (item_id, observed_at, price_value, price_currency, shipping_value,
				shipping_currency, price_usd, ship_usd, current_bid_value, current_bid_currency)
			VALUES (:item_id, :observed_at, :price_value, :price_currency, :shipping_value,
				:shipping_currency, :price_usd, :ship_usd, :current_bid_value, :current_bid_currency)
			ON CONFLICT(item_id, observed_at) DO NOTHING`, obs)
		if err != nil {
			return fmt.Errorf("append observation %s: %w", l.ItemID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) MarkEndedExcept(ctx context.Context, seen map[string]struct{}, now time.Time) (int, error) {
	ended := 0
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		var active []string
		if err := sqlx.SelectContext(ctx, s.exec(ctx), &active,
			`SELECT item_id FROM listings WHERE status = ?`, models.ListingActive); err != nil {
			return err
		}
		for _, id := range unseen(active, seen) {
			res, err := s.exec(ctx).ExecContext(ctx,
				`UPDATE listings SET status = ?, date_updated = ? WHERE item_id = ? AND status = ?`,
				models.ListingEnded, now.UTC(), id, models.ListingActive)
			if err != nil {
				return fmt.Errorf("mark ended %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			ended += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ended, nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, itemID string) (*models.Listing, error) {
	var l models.Listing
	err := sqlx.GetContext(ctx, s.exec(ctx), &l, `SELECT `+listingColumns+` FROM listings WHERE item_id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) QueryListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	var where []string
	var args []any
	if f.Marketplace != "" {
		where = append(where, "marketplace = ?")
		args = append(args, f.Marketplace)
	}
	if f.Brand != "" {
		where = append(where, "brand = ?")
		args = append(args, f.Brand)
	}
	if f.BuyingOption != "" {
		where = append(where, "(',' || buying_options || ',') LIKE ?")
		args = append(args, "%,"+string(f.BuyingOption)+",%")
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date_updated DESC, item_id"

	var listings []models.Listing
	if err := sqlx.SelectContext(ctx, s.exec(ctx), &listings, query, args...); err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, itemID string) ([]models.PriceObservation, error) {
	var obs []models.PriceObservation
	err := sqlx.SelectContext(ctx, s.exec(ctx), &obs, `
		SELECT item_id, observed_at, price_value, price_currency, shipping_value, shipping_currency,
			price_usd, ship_usd, current_bid_value, current_bid_currency
		FROM price_history WHERE item_id = ? ORDER BY observed_at`, itemID)
	return obs, err
}

// =============================================================================
// Watchlist
// =============================================================================

const watchColumns = `item_id, marketplace, end_time, added_at, last_checked, status, final_price, final_currency`

func (s *SQLiteStore) AddWatch(ctx context.Context, w *models.WatchEntry) (bool, error) {
	res, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO watchlist (item_id, marketplace, end_time, added_at, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO NOTHING`,
		w.ItemID, w.Marketplace, w.EndTime, w.AddedAt.UTC(), models.WatchWatching)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteStore) GetWatch(ctx context.Context, itemID string) (*models.WatchEntry, error) {
	var w models.WatchEntry
	err := sqlx.GetContext(ctx, s.exec(ctx), &w, `SELECT `+watchColumns+` FROM watchlist WHERE item_id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLiteStore) ListWatches(ctx context.Context) ([]models.WatchEntry, error) {
	var entries []models.WatchEntry
	err := sqlx.SelectContext(ctx, s.exec(ctx), &entries, `SELECT `+watchColumns+` FROM watchlist ORDER BY added_at, item_id`)
	return entries, err
}

func (s *SQLiteStore) ListWatching(ctx context.Context) ([]models.WatchEntry, error) {
	var entries []models.WatchEntry
	err := sqlx.SelectContext(ctx, s.exec(ctx), &entries,
		`SELECT `+watchColumns+` FROM watchlist WHERE status = ? ORDER BY added_at, item_id`, models.WatchWatching)
	return entries, err
}

func (s *SQLiteStore) TouchWatch(ctx context.Context, itemID string, now time.Time) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE watchlist SET last_checked = ? WHERE item_id = ? AND status = ?`,
		now.UTC(), itemID, models.WatchWatching)
	return err
}

func (s *SQLiteStore) MarkWatchEnded(ctx context.Context, itemID string, finalPrice *float64, finalCurrency string, now time.Time) (bool, error) {
	ok := false
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx, `
			UPDATE watchlist SET status = ?, final_price = ?, final_currency = ?, last_checked = ?
			WHERE item_id = ? AND status = ?`,
			models.WatchEnded, finalPrice, finalCurrency, now.UTC(), itemID, models.WatchWatching)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		ok = true
		_, err = s.exec(ctx).ExecContext(ctx,
			`UPDATE listings SET status = ?, date_updated = ? WHERE item_id = ?`,
			models.ListingEnded, now.UTC(), itemID)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// =============================================================================
// Credential, locks, runs, commands
// =============================================================================

func (s *SQLiteStore) LoadCredential(ctx context.Context) (*models.Credential, error) {
	var c models.Credential
	err := sqlx.GetContext(ctx, s.exec(ctx), &c,
		`SELECT access_token, expires_at FROM credentials WHERE slot = ?`, credentialSlot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) SaveCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO credentials (slot, access_token, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET access_token = excluded.access_token, expires_at = excluded.expires_at`,
		credentialSlot, cred.AccessToken, cred.ExpiresAt.UTC())
	return err
}

func (s *SQLiteStore) TryLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO pass_locks (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE pass_locks.expires_at < ? OR pass_locks.holder = excluded.holder`,
		name, holder, now.Add(ttl), now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteStore) Unlock(ctx context.Context, name, holder string) error {
	_, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM pass_locks WHERE name = ? AND holder = ?`, name, holder)
	return err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.PassRun) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO pass_runs (id, kind, started_at, status) VALUES (?, ?, ?, ?)`,
		run.ID, run.Kind, run.StartedAt.UTC(), run.Status)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.PassRun) error {
	stats := run.Stats
	if len(stats) == 0 {
		stats = json.RawMessage("{}")
	}
	_, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE pass_runs SET finished_at = ?, status = ?, stats = ?, error = ? WHERE id = ?`,
		run.FinishedAt, run.Status, string(stats), run.Error, run.ID)
	return err
}

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var data []byte
	if params != nil {
		var err error
		if data, err = json.Marshal(params); err != nil {
			return err
		}
	}
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, nullableJSON(data), time.Now().UTC())
	return err
}

func (s *SQLiteStore) PendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64, now time.Time) error {
	_, err := s.exec(ctx).ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, now.UTC(), id)
	return err
}

// normalizeListing returns a copy with UTC timestamps and a date_found.
func normalizeListing(l *models.Listing) *models.Listing {
	row := *l
	row.DateUpdated = row.DateUpdated.UTC()
	if row.DateFound.IsZero() {
		row.DateFound = row.DateUpdated
	}
	row.DateFound = row.DateFound.UTC()
	if row.Status == "" {
		row.Status = models.ListingActive
	}
	return &row
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
