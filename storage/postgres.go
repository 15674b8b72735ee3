package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"brassradar/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// pgExecutor is satisfied by both the pool and a transaction.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
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
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
		price_value DOUBLE PRECISION,
		price_currency TEXT NOT NULL DEFAULT '',
		shipping_value DOUBLE PRECISION,
		shipping_currency TEXT NOT NULL DEFAULT '',
		price_usd DOUBLE PRECISION,
		ship_usd DOUBLE PRECISION,
		current_bid_value DOUBLE PRECISION,
		current_bid_currency TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		date_found TIMESTAMPTZ NOT NULL,
		date_updated TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		item_id TEXT NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL,
		price_value DOUBLE PRECISION,
		price_currency TEXT NOT NULL DEFAULT '',
		shipping_value DOUBLE PRECISION,
		shipping_currency TEXT NOT NULL DEFAULT '',
		price_usd DOUBLE PRECISION,
		ship_usd DOUBLE PRECISION,
		current_bid_value DOUBLE PRECISION,
		current_bid_currency TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (item_id, observed_at)
	);

	CREATE TABLE IF NOT EXISTS watchlist (
		item_id TEXT PRIMARY KEY,
		marketplace TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		added_at TIMESTAMPTZ NOT NULL,
		last_checked TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'WATCHING',
		final_price DOUBLE PRECISION,
		final_currency TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS credentials (
		slot TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pass_locks (
		name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pass_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		stats JSONB,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS commands (
		id BIGSERIAL PRIMARY KEY,
		command TEXT NOT NULL,
		params JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
	CREATE INDEX IF NOT EXISTS idx_listings_market_brand ON listings(marketplace, brand);
	CREATE INDEX IF NOT EXISTS idx_watchlist_status ON watchlist(status);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`)
	return err
}

func (s *PostgresStore) exec(ctx context.Context) pgExecutor {
	if tx := postgresTx(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if postgresTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, postgresTxKey, tx)

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	row := normalizeListing(l)
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx).Exec(ctx, `
			INSERT INTO listings (`+listingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
			ON CONFLICT (item_id) DO UPDATE SET
				title = EXCLUDED.title,
				brand = EXCLUDED.brand,
				marketplace = EXCLUDED.marketplace,
				country = EXCLUDED.country,
				condition = EXCLUDED.condition,
				buying_options = EXCLUDED.buying_options,
				item_web_url = EXCLUDED.item_web_url,
				image_url = EXCLUDED.image_url,
				image_path = EXCLUDED.image_path,
				price_value = EXCLUDED.price_value,
				price_currency = EXCLUDED.price_currency,
				shipping_value = EXCLUDED.shipping_value,
				shipping_currency = EXCLUDED.shipping_currency,
				price_usd = EXCLUDED.price_usd,
				ship_usd = EXCLUDED.ship_usd,
				current_bid_value = EXCLUDED.current_bid_value,
				current_bid_currency = EXCLUDED.current_bid_currency,
				end_time = EXCLUDED.end_time,
				status = EXCLUDED.status,
				date_updated = EXCLUDED.date_updated`,
			row.ItemID, row.Title, row.Brand, row.Marketplace, row.Country, row.Condition, row.BuyingOptions.String(),
			row.ItemWebURL, row.ImageURL, row.ImagePath, row.PriceValue, row.PriceCurrency, row.ShippingValue,
			row.ShippingCurrency, row.PriceUSD, row.ShipUSD, row.CurrentBidValue, row.CurrentBidCurrency,
			row.EndTime, row.Status, row.DateFound, row.DateUpdated)
		if err != nil {
			return fmt.Errorf("upsert listing %s: %w", l.ItemID, err)
		}

		obs := models.ObservationOf(row)
		_, err = s.exec(ctx).Exec(ctx, `
			INSERT INTO price_history (item_id, observed_at, price_value, price_currency, shipping_value,
				shipping_currency, price_usd, ship_usd, current_bid_value, current_bid_currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (item_id, observed_at) DO NOTHING`,
			obs.ItemID, obs.ObservedAt, obs.PriceValue, obs.PriceCurrency, obs.ShippingValue,
			obs.ShippingCurrency, obs.PriceUSD, obs.ShipUSD, obs.CurrentBidValue, obs.CurrentBidCurrency)
		if err != nil {
			return fmt.Errorf("append observation %s: %w", l.ItemID, err)
		}
		return nil
	})
}

func (s *PostgresStore) MarkEndedExcept(ctx context.Context, seen map[string]struct{}, now time.Time) (int, error) {
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	tag, err := s.exec(ctx).Exec(ctx, `
		UPDATE listings SET status = $1, date_updated = $2
		WHERE status = $3 AND NOT (item_id = ANY($4))`,
		models.ListingEnded, now, models.ListingActive, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetListing(ctx context.Context, itemID string) (*models.Listing, error) {
	rows, err := s.exec(ctx).Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, err
	}
	l, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Listing])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) QueryListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Marketplace != "" {
		add("marketplace = $%d", f.Marketplace)
	}
	if f.Brand != "" {
		add("brand = $%d", f.Brand)
	}
	if f.BuyingOption != "" {
		add("(',' || buying_options || ',') LIKE $%d", "%,"+string(f.BuyingOption)+",%")
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date_updated DESC, item_id"

	rows, err := s.exec(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.Listing])
}

func (s *PostgresStore) PriceHistory(ctx context.Context, itemID string) ([]models.PriceObservation, error) {
	rows, err := s.exec(ctx).Query(ctx, `
		SELECT item_id, observed_at, price_value, price_currency, shipping_value, shipping_currency,
			price_usd, ship_usd, current_bid_value, current_bid_currency
		FROM price_history WHERE item_id = $1 ORDER BY observed_at`, itemID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.PriceObservation])
}

// =============================================================================
// Watchlist
// =============================================================================

func (s *PostgresStore) AddWatch(ctx context.Context, w *models.WatchEntry) (bool, error) {
	tag, err := s.exec(ctx).Exec(ctx, `
		INSERT INTO watchlist (item_id, marketplace, end_time, added_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id) DO NOTHING`,
		w.ItemID, w.Marketplace, w.EndTime, w.AddedAt, models.WatchWatching)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetWatch(ctx context.Context, itemID string) (*models.WatchEntry, error) {
	rows, err := s.exec(ctx).Query(ctx, `SELECT `+watchColumns+` FROM watchlist WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, err
	}
	w, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.WatchEntry])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *PostgresStore) ListWatches(ctx context.Context) ([]models.WatchEntry, error) {
	rows, err := s.exec(ctx).Query(ctx, `SELECT `+watchColumns+` FROM watchlist ORDER BY added_at, item_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.WatchEntry])
}

func (s *PostgresStore) ListWatching(ctx context.Context) ([]models.WatchEntry, error) {
	rows, err := s.exec(ctx).Query(ctx,
		`SELECT `+watchColumns+` FROM watchlist WHERE status = $1 ORDER BY added_at, item_id`, models.WatchWatching)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.WatchEntry])
}

func (s *PostgresStore) TouchWatch(ctx context.Context, itemID string, now time.Time) error {
	_, err := s.exec(ctx).Exec(ctx,
		`UPDATE watchlist SET last_checked = $1 WHERE item_id = $2 AND status = $3`,
		now, itemID, models.WatchWatching)
	return err
}

func (s *PostgresStore) MarkWatchEnded(ctx context.Context, itemID string, finalPrice *float64, finalCurrency string, now time.Time) (bool, error) {
	ok := false
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		tag, err := s.exec(ctx).Exec(ctx, `
			UPDATE watchlist SET status = $1, final_price = $2, final_currency = $3, last_checked = $4
			WHERE item_id = $5 AND status = $6`,
			models.WatchEnded, finalPrice, finalCurrency, now, itemID, models.WatchWatching)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		ok = true
		_, err = s.exec(ctx).Exec(ctx,
			`UPDATE listings SET status = $1, date_updated = $2 WHERE item_id = $3`,
			models.ListingEnded, now, itemID)
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

func (s *PostgresStore) LoadCredential(ctx context.Context) (*models.Credential, error) {
	var c models.Credential
	err := s.exec(ctx).QueryRow(ctx,
		`SELECT access_token, expires_at FROM credentials WHERE slot = $1`, credentialSlot).
		Scan(&c.AccessToken, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) SaveCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.exec(ctx).Exec(ctx, `
		INSERT INTO credentials (slot, access_token, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (slot) DO UPDATE SET access_token = EXCLUDED.access_token, expires_at = EXCLUDED.expires_at`,
		credentialSlot, cred.AccessToken, cred.ExpiresAt)
	return err
}

func (s *PostgresStore) TryLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	tag, err := s.exec(ctx).Exec(ctx, `
		INSERT INTO pass_locks (name, holder, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE pass_locks.expires_at < $4 OR pass_locks.holder = EXCLUDED.holder`,
		name, holder, now.Add(ttl), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Unlock(ctx context.Context, name, holder string) error {
	_, err := s.exec(ctx).Exec(ctx, `DELETE FROM pass_locks WHERE name = $1 AND holder = $2`, name, holder)
	return err
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.PassRun) error {
	_, err := s.exec(ctx).Exec(ctx, `
		INSERT INTO pass_runs (id, kind, started_at, status) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Kind, run.StartedAt, run.Status)
	return err
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.PassRun) error {
	stats := run.Stats
	if len(stats) == 0 {
		stats = json.RawMessage("{}")
	}
	_, err := s.exec(ctx).Exec(ctx, `
		UPDATE pass_runs SET finished_at = $1, status = $2, stats = $3, error = $4 WHERE id = $5`,
		run.FinishedAt, run.Status, stats, run.Error, run.ID)
	return err
}

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var data []byte
	if params != nil {
		var err error
		if data, err = json.Marshal(params); err != nil {
			return err
		}
	}
	_, err := s.exec(ctx).Exec(ctx,
		`INSERT INTO commands (command, params) VALUES ($1, $2)`, cmd, nullableJSON(data))
	return err
}

func (s *PostgresStore) PendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.exec(ctx).Query(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.Command])
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64, now time.Time) error {
	_, err := s.exec(ctx).Exec(ctx, `UPDATE commands SET processed_at = $1 WHERE id = $2`, now, id)
	return err
}
