// Package watch checks watched auctions near their end time and reports
// each closure exactly once.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"brassradar/marketplace"
	"brassradar/models"
	"brassradar/notify"
)

var (
	ErrCheckInProgress = errors.New("watch check already running")
	ErrUnknownListing  = errors.New("listing not found")
)

const (
	lockName         = "watch"
	DefaultLookahead = 15 * time.Minute
)

type Monitor struct {
	market    Marketplace
	store     Store
	notifier  Notifier
	lookahead time.Duration
	lockTTL   time.Duration
	now       func() time.Time
	log       *logrus.Entry

	running sync.Mutex
}

func NewMonitor(market Marketplace, store Store, notifier Notifier, lookahead time.Duration) *Monitor {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Monitor{
		market:    market,
		store:     store,
		notifier:  notifier,
		lookahead: lookahead,
		lockTTL:   30 * time.Minute,
		now:       time.Now,
		log:       logrus.WithField("component", "watch"),
	}
}

func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Add subscribes to a stored listing. Adding an existing entry changes
// nothing.
func (m *Monitor) Add(ctx context.Context, itemID string) (*models.WatchEntry, bool, error) {
	l, err := m.store.GetListing(ctx, itemID)
	if err != nil {
		return nil, false, fmt.Errorf("load listing %s: %w", itemID, err)
	}
	if l == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownListing, itemID)
	}

	w := &models.WatchEntry{
		ItemID:      l.ItemID,
		Marketplace: l.Marketplace,
		EndTime:     l.EndTime,
		AddedAt:     m.now().UTC(),
		Status:      models.WatchWatching,
	}
	created, err := m.store.AddWatch(ctx, w)
	if err != nil {
		return nil, false, fmt.Errorf("add watch %s: %w", itemID, err)
	}
	if created {
		m.log.Infof("watching %s (%s)", itemID, l.Title)
	}
	return w, created, nil
}

// Check runs one pass over every WATCHING entry. A failing entry stays
// WATCHING and does not stop the pass.
func (m *Monitor) Check(ctx context.Context) (*models.PassRun, error) {
	if !m.running.TryLock() {
		return nil, ErrCheckInProgress
	}
	defer m.running.Unlock()

	holder := uuid.NewString()
	started := m.now().UTC()
	ok, err := m.store.TryLock(ctx, lockName, holder, m.lockTTL, started)
	if err != nil {
		return nil, fmt.Errorf("acquire check lock: %w", err)
	}
	if !ok {
		return nil, ErrCheckInProgress
	}
	defer func() {
		if err := m.store.Unlock(context.WithoutCancel(ctx), lockName, holder); err != nil {
			m.log.Warnf("release check lock: %v", err)
		}
	}()

	run := &models.PassRun{ID: holder, Kind: models.PassWatch, StartedAt: started, Status: models.RunStatusRunning}
	if err := m.store.CreateRun(ctx, run); err != nil {
		m.log.Warnf("record run: %v", err)
	}

	stats := &models.WatchStats{}
	err = m.pass(ctx, stats)

	finished := m.now().UTC()
	run.FinishedAt = &finished
	run.Stats = stats.ToJSON()
	run.Status = models.RunStatusCompleted
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		m.log.Errorf("watch check failed: %v", err)
	} else if stats.Checked > 0 || stats.Ended > 0 {
		m.log.Infof("watch check done: checked=%d skipped=%d ended=%d notified=%d errors=%d",
			stats.Checked, stats.Skipped, stats.Ended, stats.Notified, stats.Errors)
	}
	if err := m.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		m.log.Warnf("record run: %v", err)
	}
	return run, err
}

func (m *Monitor) pass(ctx context.Context, stats *models.WatchStats) error {
	entries, err := m.store.ListWatching(ctx)
	if err != nil {
		return fmt.Errorf("list watchlist: %w", err)
	}

	for i := range entries {
		w := &entries[i]
		if m.farFromEnd(w) {
			stats.Skipped++
			continue
		}
		stats.Checked++
		if err := m.checkOne(ctx, w, stats); err != nil {
			if isFatal(ctx, err) {
				return err
			}
			stats.Errors++
			m.log.Warnf("check %s: %v", w.ItemID, err)
		}
	}
	return nil
}

// farFromEnd reports an end time beyond the lookahead window. Unknown or
// unparseable end times are always checked.
func (m *Monitor) farFromEnd(w *models.WatchEntry) bool {
	end, ok := models.ParseEndTime(w.EndTime)
	return ok && end.Sub(m.now()) > m.lookahead
}

func (m *Monitor) checkOne(ctx context.Context, w *models.WatchEntry, stats *models.WatchStats) error {
	detail, err := m.market.ItemDetail(ctx, w.Marketplace, w.ItemID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	if detail.HasBid() {
		return m.store.TouchWatch(ctx, w.ItemID, now)
	}

	l, err := m.store.GetListing(ctx, w.ItemID)
	if err != nil {
		return err
	}

	if l == nil {
		ok, err := m.store.MarkWatchEnded(ctx, w.ItemID, nil, "", now)
		if err != nil {
			return err
		}
		if ok {
			stats.Ended++
			m.log.Infof("%s vanished; watch ended without a price", w.ItemID)
		}
		return nil
	}

	if l.Status != models.ListingEnded && l.CurrentBidValue == nil {
		// No bid anywhere yet; the listing sweep ends it if it disappears.
		return m.store.TouchWatch(ctx, w.ItemID, now)
	}

	price, ccy := finalPrice(l)
	ok, err := m.store.MarkWatchEnded(ctx, w.ItemID, price, ccy, now)
	if err != nil || !ok {
		return err
	}
	stats.Ended++

	w.Status = models.WatchEnded
	w.FinalPrice, w.FinalCurrency = price, ccy
	if m.notifier != nil && m.notifier.Send(ctx, notify.EndedMessage(l, w)) {
		stats.Notified++
	}
	m.log.Infof("%s ended at %s", w.ItemID, formatPrice(price, ccy))
	return nil
}

// finalPrice is the last recorded bid. An auction that never drew a bid has
// no final price.
func finalPrice(l *models.Listing) (*float64, string) {
	if l.CurrentBidValue == nil {
		return nil, ""
	}
	return l.CurrentBidValue, l.CurrentBidCurrency
}

func formatPrice(v *float64, ccy string) string {
	if v == nil {
		return "unknown price"
	}
	return fmt.Sprintf("%.2f %s", *v, ccy)
}

func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, marketplace.ErrAuth) ||
		errors.Is(err, marketplace.ErrMissingCredentials) ||
		ctx.Err() != nil
}
