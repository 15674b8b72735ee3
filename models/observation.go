package models

import "time"

// PriceObservation is an append-only monetary snapshot taken at poll time.
type PriceObservation struct {
	ItemID             string    `json:"item_id" db:"item_id"`
	ObservedAt         time.Time `json:"observed_at" db:"observed_at"`
	PriceValue         *float64  `json:"price_value" db:"price_value"`
	PriceCurrency      string    `json:"price_currency" db:"price_currency"`
	ShippingValue      *float64  `json:"shipping_value" db:"shipping_value"`
	ShippingCurrency   string    `json:"shipping_currency" db:"shipping_currency"`
	PriceUSD           *float64  `json:"price_usd" db:"price_usd"`
	ShipUSD            *float64  `json:"ship_usd" db:"ship_usd"`
	CurrentBidValue    *float64  `json:"current_bid_value" db:"current_bid_value"`
	CurrentBidCurrency string    `json:"current_bid_currency" db:"current_bid_currency"`
}

// ObservationOf snapshots the monetary fields of l as of its DateUpdated.
func ObservationOf(l *Listing) PriceObservation {
	return PriceObservation{
		ItemID:             l.ItemID,
		ObservedAt:         l.DateUpdated,
		PriceValue:         l.PriceValue,
		PriceCurrency:      l.PriceCurrency,
		ShippingValue:      l.ShippingValue,
		ShippingCurrency:   l.ShippingCurrency,
		PriceUSD:           l.PriceUSD,
		ShipUSD:            l.ShipUSD,
		CurrentBidValue:    l.CurrentBidValue,
		CurrentBidCurrency: l.CurrentBidCurrency,
	}
}
