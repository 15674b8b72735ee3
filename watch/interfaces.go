package watch

import (
	"context"
	"time"

	"brassradar/marketplace"
	"brassradar/models"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

type Marketplace interface {
	ItemDetail(ctx context.Context, market, itemID string) (*marketplace.ItemDetail, error)
}

type Store interface {
	GetListing(ctx context.Context, itemID string) (*models.Listing, error)
	AddWatch(ctx context.Context, w *models.WatchEntry) (bool, error)
	ListWatching(ctx context.Context) ([]models.WatchEntry, error)
	TouchWatch(ctx context.Context, itemID string, now time.Time) error
	MarkWatchEnded(ctx context.Context, itemID string, finalPrice *float64, finalCurrency string, now time.Time) (bool, error)
	TryLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	Unlock(ctx context.Context, name, holder string) error
	CreateRun(ctx context.Context, run *models.PassRun) error
	FinishRun(ctx context.Context, run *models.PassRun) error
}

type Notifier interface {
	Send(ctx context.Context, msg models.Notification) bool
}
