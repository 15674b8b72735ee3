package storage

import (
	"context"
	"time"

	"brassradar/models"
)

// Store is the durable owner of listings, price history, the watchlist and
// the operational tables. Methods called with a context returned by
// WithTransaction run inside that transaction.
type Store interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// UpsertListing inserts or overwrites l, preserving date_found, and
	// appends one price observation at l.DateUpdated.
	UpsertListing(ctx context.Context, l *models.Listing) error
	// MarkEndedExcept ends every ACTIVE listing whose id is not in seen.
	MarkEndedExcept(ctx context.Context, seen map[string]struct{}, now time.Time) (int, error)
	GetListing(ctx context.Context, itemID string) (*models.Listing, error)
	QueryListings(ctx context.Context, f ListingFilter) ([]models.Listing, error)
	PriceHistory(ctx context.Context, itemID string) ([]models.PriceObservation, error)

	// AddWatch is a no-op for an existing entry; created reports an insert.
	AddWatch(ctx context.Context, w *models.WatchEntry) (created bool, err error)
	GetWatch(ctx context.Context, itemID string) (*models.WatchEntry, error)
	ListWatches(ctx context.Context) ([]models.WatchEntry, error)
	ListWatching(ctx context.Context) ([]models.WatchEntry, error)
	TouchWatch(ctx context.Context, itemID string, now time.Time) error
	// MarkWatchEnded transitions a WATCHING entry to ENDED and ends its
	// listing. ok is false when the entry was not WATCHING.
	MarkWatchEnded(ctx context.Context, itemID string, finalPrice *float64, finalCurrency string, now time.Time) (ok bool, err error)

	LoadCredential(ctx context.Context) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error

	TryLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	Unlock(ctx context.Context, name, holder string) error

	CreateRun(ctx context.Context, run *models.PassRun) error
	FinishRun(ctx context.Context, run *models.PassRun) error

	EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error
	PendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64, now time.Time) error

	Close() error
}

type ListingFilter struct {
	Marketplace  string
	Brand        string
	BuyingOption models.BuyingOption
	Status       models.ListingStatus
}

const credentialSlot = "app"

func unseen(active []string, seen map[string]struct{}) []string {
	var out []string
	for _, id := range active {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
