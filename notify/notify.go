// Package notify delivers best-effort alerts to the configured channels.
package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"brassradar/models"
)

const (
	EndedTitle     = "BrassRadar: Auction ended"
	DefaultTimeout = 10 * time.Second
)

// Channel is one delivery mechanism.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg models.Notification) error
}

// Dispatcher fans a message out to every channel. Delivery errors are logged
// and never returned.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      *logrus.Entry
}

func NewDispatcher(timeout time.Duration, channels ...Channel) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		log:      logrus.WithField("component", "notify"),
	}
}

func (d *Dispatcher) Channels() int { return len(d.channels) }

// Send reports whether at least one channel accepted the message.
func (d *Dispatcher) Send(ctx context.Context, msg models.Notification) bool {
	delivered := false
	for _, ch := range d.channels {
		cctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := ch.Deliver(cctx, msg)
		cancel()
		if err != nil {
			d.log.Warnf("%s delivery failed: %v", ch.Name(), err)
			continue
		}
		delivered = true
	}
	return delivered
}

// Close releases channels that hold connections.
func (d *Dispatcher) Close() {
	for _, ch := range d.channels {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.log.Warnf("%s close: %v", ch.Name(), err)
			}
		}
	}
}

// EndedMessage builds the auction-ended alert for a watched listing.
func EndedMessage(l *models.Listing, w *models.WatchEntry) models.Notification {
	title := l.Title
	if title == "" {
		title = "(no title)"
	}
	price := "unknown"
	if w.FinalPrice != nil {
		price = fmt.Sprintf("%.2f %s", *w.FinalPrice, w.FinalCurrency)
	}
	return models.Notification{
		Title: EndedTitle,
		Lines: []string{title, "Final price: " + price, l.ItemWebURL},
	}
}
