package marketplace

import (
	"math"
	"strconv"
	"strings"
)

// Amount is a provider money value. Value arrives as a decimal string.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Float returns the parsed value, or nil when absent, malformed or not finite.
func (a *Amount) Float() *float64 {
	if a == nil || strings.TrimSpace(a.Value) == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (a *Amount) CurrencyCode() string {
	if a == nil {
		return ""
	}
	return strings.ToUpper(a.Currency)
}

type Image struct {
	ImageURL string `json:"imageUrl"`
}

type ShippingOption struct {
	ShippingCost     *Amount `json:"shippingCost"`
	ShippingCostType string  `json:"shippingCostType"`
}

type Location struct {
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
}

type Seller struct {
	Username           string `json:"username"`
	FeedbackPercentage string `json:"feedbackPercentage"`
	FeedbackScore      int    `json:"feedbackScore"`
}

// ItemSummary is one result of a search page.
type ItemSummary struct {
	ItemID          string           `json:"itemId"`
	Title           string           `json:"title"`
	Price           *Amount          `json:"price"`
	CurrentBidPrice *Amount          `json:"currentBidPrice"`
	Condition       string           `json:"condition"`
	Image           *Image           `json:"image"`
	ItemWebURL      string           `json:"itemWebUrl"`
	BuyingOptions   []string         `json:"buyingOptions"`
	ShippingOptions []ShippingOption `json:"shippingOptions"`
	ItemLocation    *Location        `json:"itemLocation"`
	Seller          *Seller          `json:"seller"`
	ItemEndDate     string           `json:"itemEndDate"`
	BidCount        int              `json:"bidCount"`
}

// Shipping returns the first shipping option's cost.
func (s *ItemSummary) Shipping() *Amount {
	if len(s.ShippingOptions) == 0 {
		return nil
	}
	return s.ShippingOptions[0].ShippingCost
}

func (s *ItemSummary) ImageURL() string {
	if s.Image == nil {
		return ""
	}
	return s.Image.ImageURL
}

func (s *ItemSummary) Country() string {
	if s.ItemLocation == nil {
		return ""
	}
	return s.ItemLocation.Country
}

type SearchPage struct {
	Href          string        `json:"href"`
	Total         int           `json:"total"`
	Limit         int           `json:"limit"`
	Offset        int           `json:"offset"`
	ItemSummaries []ItemSummary `json:"itemSummaries"`
}

// ItemDetail carries the extended per-item fields. The zero value means no
// detail was available.
type ItemDetail struct {
	ItemID          string   `json:"itemId"`
	Title           string   `json:"title"`
	Price           *Amount  `json:"price"`
	CurrentBidPrice *Amount  `json:"currentBidPrice"`
	ItemEndDate     string   `json:"itemEndDate"`
	BuyingOptions   []string `json:"buyingOptions"`
	BidCount        int      `json:"bidCount"`
}

func (d *ItemDetail) Empty() bool {
	return d == nil || (d.ItemID == "" && d.Price == nil && d.CurrentBidPrice == nil && d.ItemEndDate == "")
}

// HasBid reports whether the detail carries a usable current bid.
func (d *ItemDetail) HasBid() bool {
	return d != nil && d.CurrentBidPrice.Float() != nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
