package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"brassradar/currency"
	"brassradar/ingest/mocks"
	"brassradar/marketplace"
	"brassradar/models"
	"brassradar/relevance"
	"brassradar/storage"
)

var t0 = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPipeline(market Marketplace, store Store, clk *clock, opts Options) *Pipeline {
	filter := relevance.New([]string{"brass", "messing"}, []string{"playmobil"})
	brands := relevance.NewBrands([]relevance.Brand{{Name: "Micro-Metakit", Keywords: []string{"metakit"}}})
	conv := currency.New(map[string]float64{"EUR": 0.92, "GBP": 0.79}, "USD")
	if opts.Marketplaces == nil {
		opts.Marketplaces = []string{"EBAY_DE"}
	}
	if opts.Terms == nil {
		opts.Terms = []string{"brass locomotive"}
	}
	return New(market, store, filter, brands, conv, opts).WithClock(clk.Now)
}

func fixed(id, title, price string) marketplace.ItemSummary {
	return marketplace.ItemSummary{
		ItemID:        id,
		Title:         title,
		Price:         &marketplace.Amount{Value: price, Currency: "EUR"},
		BuyingOptions: []string{"FIXED_PRICE"},
		ItemWebURL:    "https://www.ebay.de/itm/" + id,
		ItemLocation:  &marketplace.Location{Country: "DE"},
		ShippingOptions: []marketplace.ShippingOption{
			{ShippingCost: &marketplace.Amount{Value: "20.00", Currency: "EUR"}},
		},
	}
}

func auction(id, title, bid string) marketplace.ItemSummary {
	it := fixed(id, title, bid)
	it.BuyingOptions = []string{"AUCTION"}
	it.CurrentBidPrice = &marketplace.Amount{Value: bid, Currency: "EUR"}
	it.ItemEndDate = "2024-04-02T10:00:00.000Z"
	return it
}

func TestRunTwicePersistsOneRowAndTwoObservations(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	clk := &clock{now: t0}
	p := newPipeline(market, store, clk, Options{})
	ctx := context.Background()

	market.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]marketplace.ItemSummary{fixed("A1", "Micro-Metakit BR 01 Messing", "500.00")}, nil)
	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	clk.now = t0.Add(time.Hour)
	market.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]marketplace.ItemSummary{fixed("A1", "Micro-Metakit BR 01 Messing", "450.00")}, nil)
	_, err = p.Run(ctx)
	require.NoError(t, err)

	all, err := store.QueryListings(ctx, storage.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	l := all[0]
	assert.Equal(t, 450.0, *l.PriceValue)
	assert.Equal(t, 489.13, *l.PriceUSD)
	assert.Equal(t, 21.74, *l.ShipUSD)
	assert.Equal(t, "Micro-Metakit", l.Brand)
	assert.Equal(t, "DE", l.Country)
	assert.True(t, l.DateFound.Equal(t0))
	assert.True(t, l.DateUpdated.Equal(t0.Add(time.Hour)))

	hist, err := store.PriceHistory(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestRunWalksMarketplaceTermGrid(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	p := newPipeline(market, store, &clock{now: t0}, Options{
		Marketplaces:  []string{"EBAY_DE", "EBAY_GB"},
		Terms:         []string{"brass loco", "messing lok"},
		CategoryIDs:   []string{"180250"},
		BuyingOptions: []string{"FIXED_PRICE", "AUCTION"},
		MaxResults:    50,
		PageSize:      25,
	})

	var got []string
	market.EXPECT().Search(gomock.Any(), gomock.Any()).Times(4).
		DoAndReturn(func(_ context.Context, req marketplace.SearchRequest) ([]marketplace.ItemSummary, error) {
			got = append(got, req.Marketplace+"/"+req.Query)
			assert.Equal(t, []string{"180250"}, req.CategoryIDs)
			assert.Equal(t, 50, req.MaxResults)
			assert.Equal(t, 25, req.PageSize)
			return nil, nil
		})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"EBAY_DE/brass loco", "EBAY_DE/messing lok",
		"EBAY_GB/brass loco", "EBAY_GB/messing lok",
	}, got)
}

func TestRunRejectsIrrelevantAndDeduplicates(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	p := newPipeline(market, store, &clock{now: t0}, Options{Terms: []string{"a", "b"}})

	market.EXPECT().Search(gomock.Any(), gomock.Any()).Times(2).Return([]marketplace.ItemSummary{
		fixed("A1", "Fulgurex brass Pacific", "900"),
		fixed("A2", "Playmobil brass train", "10"),
		fixed("A3", "Plastic coach", "15"),
	}, nil)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	all, err := store.QueryListings(context.Background(), storage.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "A1", all[0].ItemID)
	assert.Equal(t, relevance.OtherBrand, all[0].Brand)
	assert.JSONEq(t, `{"seen":6,"rejected":4,"duplicates":1,"enriched":0,"enrich_failed":0,"upserted":1,"ended":0,"search_failures":0,"images_fetched":0}`,
		string(run.Stats))
}

func TestAuctionUsesDetailBid(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	p := newPipeline(market, store, &clock{now: t0}, Options{})
	ctx := context.Background()

	market.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]marketplace.ItemSummary{auction("B1", "Metakit brass E 18", "100.00")}, nil)
	market.EXPECT().ItemDetail(gomock.Any(), "EBAY_DE", "B1").Return(&marketplace.ItemDetail{
		ItemID:          "B1",
		CurrentBidPrice: &marketplace.Amount{Value: "230.00", Currency: "EUR"},
		ItemEndDate:     "2024-04-02T12:00:00.000Z",
	}, nil)

	_, err := p.Run(ctx)
	require.NoError(t, err)

	l, err := store.GetListing(ctx, "B1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, 230.0, *l.CurrentBidValue)
	assert.Equal(t, 230.0, *l.PriceValue)
	assert.Equal(t, "EUR", l.CurrentBidCurrency)
	assert.Equal(t, "2024-04-02T12:00:00.000Z", l.EndTime)
	assert.Equal(t, 250.0, *l.PriceUSD)
}

func TestAuctionDetailFailureKeepsSummary(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	p := newPipeline(market, store, &clock{now: t0}, Options{})
	ctx := context.Background()

	market.EXPECT().Search(gomock.Any(), gomock.Any()).Return([]marketplace.ItemSummary{
		auction("B1", "Metakit brass E 18", "100.00"),
		auction("B2", "Metakit brass E 19", "120.00"),
	}, nil)
	market.EXPECT().ItemDetail(gomock.Any(), "EBAY_DE", "B1").Return(nil, errors.New("connection reset"))
	market.EXPECT().ItemDetail(gomock.Any(), "EBAY_DE", "B2").Return(&marketplace.ItemDetail{}, nil)

	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(run.Stats), `"enrich_failed":2`)

	for id, want := range map[string]float64{"B1": 100, "B2": 120} {
		l, err := store.GetListing(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, l, id)
		assert.Equal(t, want, *l.CurrentBidValue, id)
		assert.Equal(t, "2024-04-02T10:00:00.000Z", l.EndTime, id)
	}
}

func TestSweepEndsUnseenListings(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	clk := &clock{now: t0}
	p := newPipeline(market, store, clk, Options{})
	ctx := context.Background()

	market.EXPECT().Search(gomock.Any(), gomock.Any()).Return([]marketplace.ItemSummary{
		fixed("A1", "brass one", "10"), fixed("A2", "brass two", "20"),
	}, nil)
	_, err := p.Run(ctx)
	require.NoError(t, err)

	clk.now = t0.Add(time.Hour)
	market.EXPECT().Search(gomock.Any(), gomock.Any()).Return([]marketplace.ItemSummary{
		fixed("A1", "brass one", "10"),
	}, nil)
	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(run.Stats), `"ended":1`)

	ended, err := store.QueryListings(ctx, storage.ListingFilter{Status: models.ListingEnded})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "A2", ended[0].ItemID)
}

func TestSearchFailureSkipsSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	ctx := context.Background()

	old := &models.Listing{ItemID: "OLD", Title: "brass old", Marketplace: "EBAY_DE", Status: models.ListingActive, DateUpdated: t0.Add(-time.Hour)}
	require.NoError(t, store.UpsertListing(ctx, old))

	p := newPipeline(market, store, &clock{now: t0}, Options{Terms: []string{"ok", "broken"}})
	market.EXPECT().Search(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req marketplace.SearchRequest) ([]marketplace.ItemSummary, error) {
			if req.Query == "broken" {
				return []marketplace.ItemSummary{fixed("P1", "brass partial", "5")}, &marketplace.StatusError{StatusCode: 500}
			}
			return []marketplace.ItemSummary{fixed("A1", "brass one", "10")}, nil
		}).Times(2)

	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(run.Stats), `"search_failures":1`)

	l, err := store.GetListing(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, models.ListingActive, l.Status)

	partial, err := store.GetListing(ctx, "P1")
	require.NoError(t, err)
	assert.NotNil(t, partial, "partial results are still written")
}

func TestAuthFailureAbortsWithoutWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	ctx := context.Background()
	p := newPipeline(market, store, &clock{now: t0}, Options{Terms: []string{"a", "b"}})

	market.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]marketplace.ItemSummary{fixed("A1", "brass one", "10")}, fmt.Errorf("token: %w", marketplace.ErrAuth))

	run, err := p.Run(ctx)
	require.ErrorIs(t, err, marketplace.ErrAuth)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	all, err := store.QueryListings(ctx, storage.ListingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCancelledContextAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	p := newPipeline(market, store, &clock{now: t0}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	market.EXPECT().Search(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, marketplace.SearchRequest) ([]marketplace.ItemSummary, error) {
			cancel()
			return nil, context.Canceled
		})

	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRefusesWhileLockHeld(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	ctx := context.Background()

	ok, err := store.TryLock(ctx, lockName, "other-process", time.Hour, t0)
	require.NoError(t, err)
	require.True(t, ok)

	p := newPipeline(market, store, &clock{now: t0.Add(time.Minute)}, Options{})
	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, ErrPassInProgress)
}

func TestUpsertsPrecedeSweepInOneTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := mocks.NewMockStore(ctrl)
	p := newPipeline(market, store, &clock{now: t0}, Options{})

	type txKey struct{}

	market.EXPECT().Search(gomock.Any(), gomock.Any()).Return([]marketplace.ItemSummary{
		fixed("A1", "brass one", "10"), fixed("A2", "brass two", "20"),
	}, nil)

	store.EXPECT().TryLock(gomock.Any(), lockName, gomock.Any(), time.Hour, t0).Return(true, nil)
	store.EXPECT().CreateRun(gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(context.WithValue(ctx, txKey{}, true))
		})
	inTx := func(ctx context.Context) {
		assert.Equal(t, true, ctx.Value(txKey{}))
	}
	gomock.InOrder(
		store.EXPECT().UpsertListing(gomock.Any(), gomock.Any()).Times(2).
			DoAndReturn(func(ctx context.Context, _ *models.Listing) error { inTx(ctx); return nil }),
		store.EXPECT().MarkEndedExcept(gomock.Any(), map[string]struct{}{"A1": {}, "A2": {}}, t0).
			DoAndReturn(func(ctx context.Context, _ map[string]struct{}, _ time.Time) (int, error) { inTx(ctx); return 0, nil }),
	)
	store.EXPECT().FinishRun(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, run *models.PassRun) error {
			assert.Equal(t, models.RunStatusCompleted, run.Status)
			return nil
		})
	store.EXPECT().Unlock(gomock.Any(), lockName, gomock.Any()).Return(nil)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
}

func TestImagesAreFetchedWhenEnabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	images := mocks.NewMockImageFetcher(ctrl)
	store := newStore(t)
	ctx := context.Background()
	p := newPipeline(market, store, &clock{now: t0}, Options{}).WithImages(images)

	it := fixed("A1", "brass one", "10")
	it.Image = &marketplace.Image{ImageURL: "https://i.ebayimg.com/a1.jpg"}
	market.EXPECT().Search(gomock.Any(), gomock.Any()).Return([]marketplace.ItemSummary{it, fixed("A2", "brass two", "20")}, nil)
	images.EXPECT().Fetch(gomock.Any(), "A1", "https://i.ebayimg.com/a1.jpg").Return("images/A1.jpg", true)

	_, err := p.Run(ctx)
	require.NoError(t, err)

	l, err := store.GetListing(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "images/A1.jpg", l.ImagePath)
}

func TestNonFinitePriceIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	market := mocks.NewMockMarketplace(ctrl)
	store := newStore(t)
	ctx := context.Background()
	p := newPipeline(market, store, &clock{now: t0}, Options{})

	bad := fixed("N1", "brass NaN priced", "NaN")
	bad.ShippingOptions[0].ShippingCost.Value = "Inf"
	market.EXPECT().Search(gomock.Any(), gomock.Any()).Return([]marketplace.ItemSummary{bad}, nil)

	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	l, err := store.GetListing(ctx, "N1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Nil(t, l.PriceValue)
	assert.Nil(t, l.PriceUSD)
	assert.Nil(t, l.ShippingValue)
	assert.Nil(t, l.ShipUSD)
}
