package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/currency"
	"brassradar/models"
	"brassradar/storage"
)

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "postgres://radar:****@db:5432/radar", maskConnectionString("postgres://radar:s3cret@db:5432/radar"))
	assert.Equal(t, "brassradar.db", maskConnectionString("brassradar.db"))
}

func TestEnqueueCommand(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, enqueueCommand(ctx, store, "ingest_now", ""))
	require.NoError(t, enqueueCommand(ctx, store, "watch_add", "v1|42|0"))
	assert.Error(t, enqueueCommand(ctx, store, "watch_add", ""))
	assert.Error(t, enqueueCommand(ctx, store, "explode", ""))

	cmds, err := store.PendingCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	p, err := cmds[1].ParseParams()
	require.NoError(t, err)
	assert.Equal(t, "v1|42|0", p.ItemID)
}

func TestWriteListings(t *testing.T) {
	conv := currency.New(map[string]float64{"EUR": 0.92}, "USD")
	price, ship := 92.0, 9.2
	var buf bytes.Buffer
	require.NoError(t, writeListings(&buf, []models.Listing{{
		ItemID: "A1", Title: "Metakit brass", Status: models.ListingActive, Marketplace: "EBAY_DE",
		PriceValue: &price, PriceCurrency: "EUR", ShippingValue: &ship, ShippingCurrency: "EUR",
	}}, conv))

	out := buf.String()
	assert.Contains(t, out, "TOTAL USD")
	assert.Contains(t, out, "92.00 EUR")
	assert.Contains(t, out, "110.00")
}
