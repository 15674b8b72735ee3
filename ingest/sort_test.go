package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/currency"
	"brassradar/models"
)

func f64(v float64) *float64 { return &v }

func ids(ls []models.Listing) []string {
	out := make([]string, len(ls))
	for i := range ls {
		out[i] = ls[i].ItemID
	}
	return out
}

func TestParseSortMode(t *testing.T) {
	m, err := ParseSortMode("")
	require.NoError(t, err)
	assert.Equal(t, SortBest, m)

	m, err = ParseSortMode("ending_soon")
	require.NoError(t, err)
	assert.Equal(t, SortEndingSoon, m)

	_, err = ParseSortMode("cheapest")
	assert.Error(t, err)
}

func TestSortModes(t *testing.T) {
	conv := currency.New(map[string]float64{"EUR": 0.92, "GBP": 0.79}, "USD")
	listings := []models.Listing{
		{ItemID: "eur", PriceValue: f64(92), PriceCurrency: "EUR", ShippingValue: f64(9.2), ShippingCurrency: "EUR",
			EndTime: "2024-04-03T10:00:00.000Z", DateUpdated: t0},
		{ItemID: "gbp", PriceValue: f64(79), PriceCurrency: "GBP",
			EndTime: "not a date", DateUpdated: t0.Add(2 * time.Hour)},
		{ItemID: "bid", PriceValue: f64(10), PriceCurrency: "USD", CurrentBidValue: f64(300), CurrentBidCurrency: "USD",
			BuyingOptions: models.BuyingOptions{models.BuyingAuction},
			EndTime:       "2024-04-02T10:00:00.000Z", DateUpdated: t0.Add(time.Hour)},
	}

	assert.Equal(t, []string{"eur", "gbp", "bid"}, ids(Sort(listings, SortBest, conv)))
	assert.Equal(t, []string{"gbp", "bid", "eur"}, ids(Sort(listings, SortNewest, conv)))
	assert.Equal(t, []string{"bid", "eur", "gbp"}, ids(Sort(listings, SortEndingSoon, conv)))
	assert.Equal(t, []string{"gbp", "eur", "bid"}, ids(Sort(listings, SortPriceShipLow, conv)))
	assert.Equal(t, []string{"bid", "eur", "gbp"}, ids(Sort(listings, SortPriceShipHi, conv)))

	assert.Equal(t, "eur", listings[0].ItemID, "input untouched")
}

func TestTotalReferenceIgnoresUnknownCurrency(t *testing.T) {
	conv := currency.New(map[string]float64{"EUR": 0.92}, "USD")
	l := &models.Listing{PriceValue: f64(46), PriceCurrency: "EUR", ShippingValue: f64(12), ShippingCurrency: "CHF"}
	assert.Equal(t, 50.0, TotalReference(l, conv))
}
