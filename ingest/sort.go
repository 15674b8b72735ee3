package ingest

import (
	"fmt"
	"sort"

	"brassradar/currency"
	"brassradar/models"
)

// SortMode orders listings for presentation. Nothing is persisted.
type SortMode string

const (
	SortBest         SortMode = "best"
	SortNewest       SortMode = "newly_updated"
	SortEndingSoon   SortMode = "ending_soon"
	SortPriceShipLow SortMode = "price_ship_low"
	SortPriceShipHi  SortMode = "price_ship_high"
)

func ParseSortMode(s string) (SortMode, error) {
	switch m := SortMode(s); m {
	case SortBest, SortNewest, SortEndingSoon, SortPriceShipLow, SortPriceShipHi:
		return m, nil
	case "":
		return SortBest, nil
	}
	return "", fmt.Errorf("unknown sort mode %q", s)
}

// Sort returns a sorted copy of listings. SortBest keeps the input order.
func Sort(listings []models.Listing, mode SortMode, conv *currency.Converter) []models.Listing {
	out := append([]models.Listing(nil), listings...)

	switch mode {
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].DateUpdated.After(out[j].DateUpdated)
		})
	case SortEndingSoon:
		sort.SliceStable(out, func(i, j int) bool {
			ti, okI := out[i].ParsedEndTime()
			tj, okJ := out[j].ParsedEndTime()
			if okI != okJ {
				return okI
			}
			return okI && ti.Before(tj)
		})
	case SortPriceShipLow, SortPriceShipHi:
		keys := make(map[string]float64, len(out))
		for i := range out {
			keys[out[i].ItemID] = TotalReference(&out[i], conv)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if mode == SortPriceShipHi {
				return keys[out[i].ItemID] > keys[out[j].ItemID]
			}
			return keys[out[i].ItemID] < keys[out[j].ItemID]
		})
	}
	return out
}

// TotalReference is price plus shipping in the reference currency, using the
// current bid for auctions that have one. Unconvertible parts count as zero.
func TotalReference(l *models.Listing, conv *currency.Converter) float64 {
	price, _ := conv.Convert(l.PriceValue, l.PriceCurrency)
	if v, ccy := l.EffectivePrice(); v != nil {
		if bid, ok := conv.Convert(v, ccy); ok {
			price = bid
		}
	}
	ship, _ := conv.Convert(l.ShippingValue, l.ShippingCurrency)
	return price + ship
}
