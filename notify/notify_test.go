package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/models"
)

type fakeChannel struct {
	name string
	err  error
	got  []models.Notification
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, msg models.Notification) error {
	f.got = append(f.got, msg)
	return f.err
}

func sample() models.Notification {
	price := 610.0
	return EndedMessage(
		&models.Listing{Title: "Micro-Metakit BR 01", ItemWebURL: "https://www.ebay.com/itm/123"},
		&models.WatchEntry{FinalPrice: &price, FinalCurrency: "USD"},
	)
}

func TestEndedMessage(t *testing.T) {
	msg := sample()
	assert.Equal(t, EndedTitle, msg.Title)
	assert.Equal(t, []string{"Micro-Metakit BR 01", "Final price: 610.00 USD", "https://www.ebay.com/itm/123"}, msg.Lines)

	unknown := EndedMessage(&models.Listing{}, &models.WatchEntry{})
	assert.Equal(t, "(no title)", unknown.Lines[0])
	assert.Equal(t, "Final price: unknown", unknown.Lines[1])
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	bad := &fakeChannel{name: "bad", err: errors.New("smtp down")}
	good := &fakeChannel{name: "good"}

	d := NewDispatcher(time.Second, bad, good)
	assert.True(t, d.Send(context.Background(), sample()))
	assert.Len(t, bad.got, 1)
	assert.Len(t, good.got, 1)

	onlyBad := NewDispatcher(time.Second, bad)
	assert.False(t, onlyBad.Send(context.Background(), sample()))

	none := NewDispatcher(0)
	assert.False(t, none.Send(context.Background(), sample()))
	assert.Equal(t, 0, none.Channels())
}

func TestNtfyDeliver(t *testing.T) {
	var gotTitle, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	n := NewNtfy(srv.URL+"/", "brass-alerts", srv.Client())
	require.NoError(t, n.Deliver(context.Background(), sample()))
	assert.Equal(t, "/brass-alerts", gotPath)
	assert.Equal(t, EndedTitle, gotTitle)
	assert.Equal(t, "Micro-Metakit BR 01\nFinal price: 610.00 USD\nhttps://www.ebay.com/itm/123", gotBody)
}

func TestNtfyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic limit", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewNtfy(srv.URL, "t", srv.Client()).Deliver(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestComposeMail(t *testing.T) {
	raw := string(composeMail("radar@example.com", "me@example.com", sample()))
	assert.Contains(t, raw, "Subject: "+EndedTitle+"\r\n")
	assert.True(t, strings.HasSuffix(raw, "https://www.ebay.com/itm/123\r\n"))
	assert.Contains(t, raw, "Final price: 610.00 USD\r\n")
}
