// Package ingest runs ingestion passes over the marketplace x search-term
// matrix and persists the normalized listings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"brassradar/currency"
	"brassradar/marketplace"
	"brassradar/models"
	"brassradar/relevance"
)

var ErrPassInProgress = errors.New("ingestion pass already running")

const lockName = "ingest"

type Options struct {
	Marketplaces  []string
	Terms         []string
	CategoryIDs   []string
	BuyingOptions []string
	MaxResults    int
	PageSize      int
	// LockTTL bounds how long a crashed pass can hold the store lock.
	LockTTL time.Duration
}

type Pipeline struct {
	market Marketplace
	store  Store
	filter *relevance.Filter
	brands *relevance.Brands
	conv   *currency.Converter
	images ImageFetcher
	opts   Options
	now    func() time.Time
	log    *logrus.Entry

	running sync.Mutex
}

func New(market Marketplace, store Store, filter *relevance.Filter, brands *relevance.Brands, conv *currency.Converter, opts Options) *Pipeline {
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Hour
	}
	return &Pipeline{
		market: market,
		store:  store,
		filter: filter,
		brands: brands,
		conv:   conv,
		opts:   opts,
		now:    time.Now,
		log:    logrus.WithField("component", "ingest"),
	}
}

// WithImages enables best-effort image fetching.
func (p *Pipeline) WithImages(f ImageFetcher) *Pipeline {
	p.images = f
	return p
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run executes one ingestion pass. Listings are written and the mark-ended
// sweep applied in a single transaction after every search has finished.
func (p *Pipeline) Run(ctx context.Context) (*models.PassRun, error) {
	if !p.running.TryLock() {
		return nil, ErrPassInProgress
	}
	defer p.running.Unlock()

	holder := uuid.NewString()
	started := p.now().UTC()
	ok, err := p.store.TryLock(ctx, lockName, holder, p.opts.LockTTL, started)
	if err != nil {
		return nil, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !ok {
		return nil, ErrPassInProgress
	}
	defer func() {
		if err := p.store.Unlock(context.WithoutCancel(ctx), lockName, holder); err != nil {
			p.log.Warnf("release pass lock: %v", err)
		}
	}()

	run := &models.PassRun{ID: holder, Kind: models.PassIngest, StartedAt: started, Status: models.RunStatusRunning}
	if err := p.store.CreateRun(ctx, run); err != nil {
		p.log.Warnf("record run: %v", err)
	}

	stats := &models.IngestStats{}
	err = p.pass(ctx, stats)
	p.finish(ctx, run, stats, err)
	if err != nil {
		return run, err
	}
	return run, nil
}

func (p *Pipeline) pass(ctx context.Context, stats *models.IngestStats) error {
	listings, err := p.collect(ctx, stats)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(listings))
	for _, l := range listings {
		seen[l.ItemID] = struct{}{}
	}

	return p.store.WithTransaction(ctx, func(ctx context.Context) error {
		for _, l := range listings {
			if err := p.store.UpsertListing(ctx, l); err != nil {
				return err
			}
			stats.Upserted++
		}

		if stats.SearchFailures > 0 {
			p.log.Warnf("skipping mark-ended sweep: %d searches failed this pass", stats.SearchFailures)
			return nil
		}
		n, err := p.store.MarkEndedExcept(ctx, seen, p.now().UTC())
		if err != nil {
			return fmt.Errorf("mark ended: %w", err)
		}
		stats.Ended = n
		return nil
	})
}

// collect runs the network phase. Only authentication failure or
// cancellation aborts it.
func (p *Pipeline) collect(ctx context.Context, stats *models.IngestStats) ([]*models.Listing, error) {
	seen := make(map[string]struct{})
	var out []*models.Listing

	for _, mp := range p.opts.Marketplaces {
		for _, term := range p.opts.Terms {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			items, err := p.market.Search(ctx, marketplace.SearchRequest{
				Marketplace:   mp,
				Query:         term,
				CategoryIDs:   p.opts.CategoryIDs,
				BuyingOptions: p.opts.BuyingOptions,
				MaxResults:    p.opts.MaxResults,
				PageSize:      p.opts.PageSize,
			})
			if err != nil {
				if isFatal(ctx, err) {
					return nil, err
				}
				stats.SearchFailures++
				p.log.Warnf("%s %s: %v", mp, term, err)
			}

			for i := range items {
				it := &items[i]
				stats.Seen++
				if it.ItemID == "" || !p.filter.IsRelevant(it.Title) {
					stats.Rejected++
					continue
				}
				if _, dup := seen[it.ItemID]; dup {
					stats.Duplicates++
					continue
				}
				seen[it.ItemID] = struct{}{}

				l, err := p.normalize(ctx, mp, it, stats)
				if err != nil {
					return nil, err
				}
				out = append(out, l)
			}
		}
	}

	p.log.Infof("collected %d listings (seen=%d rejected=%d dup=%d enriched=%d search_failures=%d)",
		len(out), stats.Seen, stats.Rejected, stats.Duplicates, stats.Enriched, stats.SearchFailures)
	return out, nil
}

func (p *Pipeline) normalize(ctx context.Context, mp string, it *marketplace.ItemSummary, stats *models.IngestStats) (*models.Listing, error) {
	opts := make(models.BuyingOptions, 0, len(it.BuyingOptions))
	for _, o := range it.BuyingOptions {
		opts = opts.With(models.BuyingOption(o))
	}
	ship := it.Shipping()

	l := &models.Listing{
		ItemID:           it.ItemID,
		Title:            it.Title,
		Marketplace:      mp,
		Country:          it.Country(),
		Condition:        it.Condition,
		BuyingOptions:    opts,
		ItemWebURL:       it.ItemWebURL,
		ImageURL:         it.ImageURL(),
		PriceValue:       it.Price.Float(),
		PriceCurrency:    it.Price.CurrencyCode(),
		ShippingValue:    ship.Float(),
		ShippingCurrency: ship.CurrencyCode(),
		EndTime:          it.ItemEndDate,
		Status:           models.ListingActive,
	}

	if l.IsAuction() {
		if err := p.enrich(ctx, l, it, stats); err != nil {
			return nil, err
		}
	}

	l.PriceUSD = p.conv.ConvertPtr(l.PriceValue, l.PriceCurrency)
	l.ShipUSD = p.conv.ConvertPtr(l.ShippingValue, l.ShippingCurrency)
	l.Brand = p.brands.Label(l.Title)

	if p.images != nil && l.ImageURL != "" {
		if path, ok := p.images.Fetch(ctx, l.ItemID, l.ImageURL); ok {
			l.ImagePath = path
			stats.ImagesFetched++
		}
	}

	now := p.now().UTC()
	l.DateFound = now
	l.DateUpdated = now
	return l, nil
}

// enrich applies live bid and end time to an auction. The search summary
// values are kept when the detail is missing.
func (p *Pipeline) enrich(ctx context.Context, l *models.Listing, it *marketplace.ItemSummary, stats *models.IngestStats) error {
	bid, bidCcy := it.CurrentBidPrice.Float(), it.CurrentBidPrice.CurrencyCode()

	detail, err := p.market.ItemDetail(ctx, l.Marketplace, l.ItemID)
	switch {
	case err != nil && isFatal(ctx, err):
		return err
	case err != nil:
		stats.EnrichFailed++
		p.log.Warnf("detail %s: %v", l.ItemID, err)
	case detail.Empty():
		stats.EnrichFailed++
	default:
		stats.Enriched++
		if detail.HasBid() {
			bid, bidCcy = detail.CurrentBidPrice.Float(), detail.CurrentBidPrice.CurrencyCode()
		}
		if detail.ItemEndDate != "" {
			l.EndTime = detail.ItemEndDate
		}
	}

	l.CurrentBidValue, l.CurrentBidCurrency = bid, bidCcy
	if bid != nil {
		l.PriceValue, l.PriceCurrency = bid, bidCcy
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, run *models.PassRun, stats *models.IngestStats, err error) {
	finished := p.now().UTC()
	run.FinishedAt = &finished
	run.Stats = stats.ToJSON()
	run.Status = models.RunStatusCompleted
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		p.log.Errorf("ingestion pass failed: %v", err)
	} else {
		p.log.Infof("ingestion pass done: upserted=%d ended=%d", stats.Upserted, stats.Ended)
	}
	if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		p.log.Warnf("record run: %v", err)
	}
}

// isFatal reports failures that end the whole pass: no usable credential,
// or the caller gave up.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, marketplace.ErrAuth) ||
		errors.Is(err, marketplace.ErrMissingCredentials) ||
		ctx.Err() != nil
}
