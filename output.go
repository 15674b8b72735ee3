package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"brassradar/currency"
	"brassradar/ingest"
	"brassradar/models"
	"brassradar/storage"
)

type listingReader interface {
	QueryListings(ctx context.Context, f storage.ListingFilter) ([]models.Listing, error)
	PriceHistory(ctx context.Context, itemID string) ([]models.PriceObservation, error)
	ListWatches(ctx context.Context) ([]models.WatchEntry, error)
}

func printListings(ctx context.Context, w io.Writer, store listingReader, conv *currency.Converter) error {
	mode, err := ingest.ParseSortMode(*sortMode)
	if err != nil {
		return err
	}
	listings, err := store.QueryListings(ctx, storage.ListingFilter{
		Marketplace:  *market,
		Brand:        *brand,
		BuyingOption: models.BuyingOption(*option),
	})
	if err != nil {
		return err
	}
	return writeListings(w, ingest.Sort(listings, mode, conv), conv)
}

func writeListings(w io.Writer, listings []models.Listing, conv *currency.Converter) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ITEM\tSTATUS\tMARKET\tBRAND\tPRICE\tTOTAL %s\tENDS\tTITLE\n", conv.Reference())
	for i := range listings {
		l := &listings[i]
		v, ccy := l.EffectivePrice()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			l.ItemID, l.Status, l.Marketplace, l.Brand,
			money(v, ccy), ingest.TotalReference(l, conv), orDash(l.EndTime), l.Title)
	}
	return tw.Flush()
}

func printHistory(ctx context.Context, w io.Writer, store listingReader, itemID string) error {
	obs, err := store.PriceHistory(ctx, itemID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OBSERVED\tPRICE\tBID\tSHIPPING\tPRICE USD")
	for _, o := range obs {
		usd := "-"
		if o.PriceUSD != nil {
			usd = fmt.Sprintf("%.2f", *o.PriceUSD)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			o.ObservedAt.Format(time.RFC3339),
			money(o.PriceValue, o.PriceCurrency),
			money(o.CurrentBidValue, o.CurrentBidCurrency),
			money(o.ShippingValue, o.ShippingCurrency),
			usd)
	}
	return tw.Flush()
}

func printWatchlist(ctx context.Context, w io.Writer, store listingReader) error {
	entries, err := store.ListWatches(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSTATUS\tMARKET\tENDS\tLAST CHECKED\tFINAL")
	for _, e := range entries {
		checked := "-"
		if e.LastChecked != nil {
			checked = e.LastChecked.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ItemID, e.Status, e.Marketplace, orDash(e.EndTime), checked, money(e.FinalPrice, e.FinalCurrency))
	}
	return tw.Flush()
}

func money(v *float64, ccy string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %s", *v, ccy)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
