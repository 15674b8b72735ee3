package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"
)

type BuyingOption string

const (
	BuyingFixedPrice BuyingOption = "FIXED_PRICE"
	BuyingAuction    BuyingOption = "AUCTION"
)

type ListingStatus string

const (
	ListingActive ListingStatus = "ACTIVE"
	ListingEnded  ListingStatus = "ENDED"
)

// BuyingOptions is the set of sale mechanisms a listing offers.
// It is stored as a sorted, comma-joined string.
type BuyingOptions []BuyingOption

func ParseBuyingOptions(s string) BuyingOptions {
	var opts BuyingOptions
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		opts = opts.With(BuyingOption(strings.ToUpper(part)))
	}
	return opts
}

func (b BuyingOptions) Has(o BuyingOption) bool {
	for _, v := range b {
		if v == o {
			return true
		}
	}
	return false
}

// With returns the set extended by o, keeping it sorted and unique.
func (b BuyingOptions) With(o BuyingOption) BuyingOptions {
	if b.Has(o) {
		return b
	}
	out := append(append(BuyingOptions{}, b...), o)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b BuyingOptions) String() string {
	parts := make([]string, len(b))
	for i, o := range b {
		parts[i] = string(o)
	}
	return strings.Join(parts, ",")
}

func (b BuyingOptions) Value() (driver.Value, error) {
	return b.String(), nil
}

func (b *BuyingOptions) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = nil
	case string:
		*b = ParseBuyingOptions(v)
	case []byte:
		*b = ParseBuyingOptions(string(v))
	default:
		return fmt.Errorf("buying options: unsupported type %T", src)
	}
	return nil
}

// Listing is one tracked marketplace item. PriceValue holds the asking price,
// or for auctions the latest known bid when one exists.
type Listing struct {
	ItemID             string        `json:"item_id" db:"item_id"`
	Title              string        `json:"title" db:"title"`
	Brand              string        `json:"brand" db:"brand"`
	Marketplace        string        `json:"marketplace" db:"marketplace"`
	Country            string        `json:"country" db:"country"`
	Condition          string        `json:"condition" db:"condition"`
	BuyingOptions      BuyingOptions `json:"buying_options" db:"buying_options"`
	ItemWebURL         string        `json:"item_web_url" db:"item_web_url"`
	ImageURL           string        `json:"image_url" db:"image_url"`
	ImagePath          string        `json:"image_path" db:"image_path"`
	PriceValue         *float64      `json:"price_value" db:"price_value"`
	PriceCurrency      string        `json:"price_currency" db:"price_currency"`
	ShippingValue      *float64      `json:"shipping_value" db:"shipping_value"`
	ShippingCurrency   string        `json:"shipping_currency" db:"shipping_currency"`
	PriceUSD           *float64      `json:"price_usd" db:"price_usd"`
	ShipUSD            *float64      `json:"ship_usd" db:"ship_usd"`
	CurrentBidValue    *float64      `json:"current_bid_value" db:"current_bid_value"`
	CurrentBidCurrency string        `json:"current_bid_currency" db:"current_bid_currency"`
	EndTime            string        `json:"end_time" db:"end_time"`
	Status             ListingStatus `json:"status" db:"status"`
	DateFound          time.Time     `json:"date_found" db:"date_found"`
	DateUpdated        time.Time     `json:"date_updated" db:"date_updated"`
}

func (l *Listing) IsAuction() bool {
	return l.BuyingOptions.Has(BuyingAuction)
}

// EffectivePrice returns the current bid for auctions that have one,
// otherwise the listing price.
func (l *Listing) EffectivePrice() (*float64, string) {
	if l.IsAuction() && l.CurrentBidValue != nil {
		return l.CurrentBidValue, l.CurrentBidCurrency
	}
	return l.PriceValue, l.PriceCurrency
}

// ParsedEndTime reports the end time when present and parseable.
func (l *Listing) ParsedEndTime() (time.Time, bool) {
	return ParseEndTime(l.EndTime)
}

// ParseEndTime parses a marketplace-reported ISO instant.
func ParseEndTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
