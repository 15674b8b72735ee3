package ingest

import (
	"context"
	"time"

	"brassradar/marketplace"
	"brassradar/models"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

type Marketplace interface {
	Search(ctx context.Context, req marketplace.SearchRequest) ([]marketplace.ItemSummary, error)
	ItemDetail(ctx context.Context, market, itemID string) (*marketplace.ItemDetail, error)
}

type Store interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	UpsertListing(ctx context.Context, l *models.Listing) error
	MarkEndedExcept(ctx context.Context, seen map[string]struct{}, now time.Time) (int, error)
	TryLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	Unlock(ctx context.Context, name, holder string) error
	CreateRun(ctx context.Context, run *models.PassRun) error
	FinishRun(ctx context.Context, run *models.PassRun) error
}

type ImageFetcher interface {
	Fetch(ctx context.Context, itemID, imageURL string) (string, bool)
}
