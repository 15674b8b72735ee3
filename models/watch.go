package models

import "time"

type WatchStatus string

const (
	WatchWatching WatchStatus = "WATCHING"
	WatchEnded    WatchStatus = "ENDED"
)

// WatchEntry is a user subscription to the end of one auction.
// ENDED is terminal; FinalPrice is only set on that transition.
type WatchEntry struct {
	ItemID        string      `json:"item_id" db:"item_id"`
	Marketplace   string      `json:"marketplace" db:"marketplace"`
	EndTime       string      `json:"end_time" db:"end_time"`
	AddedAt       time.Time   `json:"added_at" db:"added_at"`
	LastChecked   *time.Time  `json:"last_checked" db:"last_checked"`
	Status        WatchStatus `json:"status" db:"status"`
	FinalPrice    *float64    `json:"final_price" db:"final_price"`
	FinalCurrency string      `json:"final_currency" db:"final_currency"`
}

// Credential is the single cached marketplace access token.
type Credential struct {
	AccessToken string    `json:"access_token" db:"access_token"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}

// Notification is the message contract handed to notifier channels.
type Notification struct {
	Title string   `json:"title"`
	Lines []string `json:"body_lines"`
}

func (n Notification) Body() string {
	body := ""
	for i, l := range n.Lines {
		if i > 0 {
			body += "\n"
		}
		body += l
	}
	return body
}
