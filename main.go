package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"brassradar/config"
	"brassradar/currency"
	"brassradar/httputil"
	"brassradar/ingest"
	"brassradar/logging"
	"brassradar/marketplace"
	"brassradar/media"
	"brassradar/models"
	"brassradar/notify"
	"brassradar/relevance"
	"brassradar/scheduler"
	"brassradar/storage"
	"brassradar/watch"
)

var (
	profilePath = flag.String("profile", config.DefaultProfilePath, "Search profile YAML")
	ingestNow   = flag.Bool("ingest", false, "Run one ingestion pass and exit")
	watchNow    = flag.Bool("watch", false, "Run one watch check and exit")
	addWatch    = flag.String("add-watch", "", "Watch the auction with this item id and exit")
	enqueue     = flag.String("enqueue", "", "Queue a command for the running daemon (ingest_now, watch_check, watch_add, pause, resume)")
	itemID      = flag.String("item", "", "Item id for -enqueue watch_add")
	list        = flag.Bool("list", false, "Print stored listings and exit")
	sortMode    = flag.String("sort", string(ingest.SortBest), "Sort for -list: best, newly_updated, ending_soon, price_ship_low, price_ship_high")
	market      = flag.String("marketplace", "", "Filter -list by marketplace")
	brand       = flag.String("brand", "", "Filter -list by brand")
	option      = flag.String("option", "", "Filter -list by buying option (FIXED_PRICE, AUCTION)")
	history     = flag.String("history", "", "Print the price history of an item and exit")
	watchlist   = flag.Bool("watchlist", false, "Print the watchlist and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*profilePath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		logrus.Warnf("Could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	log := logging.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	conv := currency.New(cfg.Search.Currencies, cfg.Search.ReferenceCurrency)

	// Read-only commands need no credentials.
	switch {
	case *list:
		exitOn(printListings(ctx, os.Stdout, store, conv))
		return
	case *history != "":
		exitOn(printHistory(ctx, os.Stdout, store, *history))
		return
	case *watchlist:
		exitOn(printWatchlist(ctx, os.Stdout, store))
		return
	case *enqueue != "":
		exitOn(enqueueCommand(ctx, store, *enqueue, *itemID))
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Infof("Proxy: %s", cfg.Proxy.URL)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Ebay.RequestsPerSecond), 1)
	tokens := marketplace.NewTokenCache(&marketplace.ClientCredentials{
		ClientID:     cfg.Ebay.ClientID,
		ClientSecret: cfg.Ebay.ClientSecret,
		Scope:        cfg.Ebay.Scope,
		BaseURL:      cfg.Ebay.BaseURL,
		HTTPClient:   clients.API,
	}, store, 0)
	client := marketplace.NewClient(tokens, marketplace.Options{
		BaseURL:    cfg.Ebay.BaseURL,
		HTTPClient: clients.API,
		Limiter:    limiter,
	})

	brands := make([]relevance.Brand, 0, len(cfg.Search.Brands))
	for _, b := range cfg.Search.Brands {
		brands = append(brands, relevance.Brand{Name: b.Name, Keywords: b.Keywords})
	}
	pipeline := ingest.New(client, store,
		relevance.New(cfg.Search.Allow, cfg.Search.Deny),
		relevance.NewBrands(brands),
		conv,
		ingest.Options{
			Marketplaces:  cfg.Search.Marketplaces,
			Terms:         cfg.Search.SearchTerms,
			CategoryIDs:   cfg.Search.CategoryIDs,
			BuyingOptions: cfg.Search.BuyingOptions,
			MaxResults:    cfg.Search.MaxResults,
			PageSize:      cfg.Search.PageSize,
		})
	if cfg.Search.ImagesEnabled() {
		fetcher, err := newFetcher(ctx, cfg, clients)
		if err != nil {
			log.Fatalf("Failed to set up image storage: %v", err)
		}
		pipeline.WithImages(fetcher)
	}

	dispatcher := newDispatcher(cfg.Notify, clients)
	defer dispatcher.Close()
	if dispatcher.Channels() == 0 {
		log.Warn("No notification channel configured; ended auctions are only logged")
	}
	monitor := watch.NewMonitor(client, store, dispatcher, cfg.Scheduler.WatchLookahead)

	switch {
	case *ingestNow:
		log.Info("Running ingestion pass...")
		_, err := pipeline.Run(ctx)
		exitOn(err)
		return
	case *watchNow:
		log.Info("Running watch check...")
		_, err := monitor.Check(ctx)
		exitOn(err)
		return
	case *addWatch != "":
		w, created, err := monitor.Add(ctx, *addWatch)
		exitOn(err)
		if created {
			fmt.Printf("Watching %s (ends %s)\n", w.ItemID, orDash(w.EndTime))
		} else {
			fmt.Printf("%s is already on the watchlist\n", w.ItemID)
		}
		return
	}

	sched := scheduler.New(cfg.Scheduler, pipeline, monitor, store)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Info("Daemon running. Press Ctrl+C to stop.")

	<-ctx.Done()
	log.Info("Shutting down...")
	sched.Wait()
	log.Info("Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	log := logging.Component("main")
	if cfg.DatabaseURL != "" {
		s, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Infof("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
		return s, nil
	}
	s, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Infof("SQLite database: %s", cfg.DBPath)
	return s, nil
}

func newFetcher(ctx context.Context, cfg *config.Config, clients *httputil.Clients) (*media.Fetcher, error) {
	if !cfg.S3.Enabled() {
		return media.NewFetcher(cfg.ImageDir, clients.Media, nil), nil
	}
	blobs, err := storage.NewS3Blobs(ctx, storage.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	logging.Component("main").Infof("Mirroring images to s3://%s", cfg.S3.Bucket)
	return media.NewFetcher(cfg.ImageDir, clients.Media, blobs), nil
}

func newDispatcher(cfg config.NotifyConfig, clients *httputil.Clients) *notify.Dispatcher {
	log := logging.Component("main")
	var channels []notify.Channel

	if cfg.NtfyTopic != "" {
		channels = append(channels, notify.NewNtfy(cfg.NtfyURL, cfg.NtfyTopic, clients.Notify))
	}
	email := notify.EmailConfig{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort,
		User: cfg.SMTPUser, Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom, To: cfg.SMTPTo,
	}
	if email.Complete() {
		channels = append(channels, notify.NewEmail(email))
	}
	if cfg.AMQPURL != "" {
		mq, err := notify.NewRabbitMQ(notify.RabbitMQConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
			QueueName:  cfg.AMQPQueue,
		})
		if err != nil {
			log.Warnf("RabbitMQ channel disabled: %v", err)
		} else {
			channels = append(channels, mq)
		}
	}
	if cfg.KafkaBroker != "" {
		k, err := notify.NewKafka(cfg.KafkaBroker, cfg.KafkaTopic)
		if err != nil {
			log.Warnf("Kafka channel disabled: %v", err)
		} else {
			channels = append(channels, k)
		}
	}
	return notify.NewDispatcher(notify.DefaultTimeout, channels...)
}

func enqueueCommand(ctx context.Context, store storage.Store, name, itemID string) error {
	cmd := models.CommandType(name)
	switch cmd {
	case models.CmdIngestNow, models.CmdWatchCheck, models.CmdPause, models.CmdResume:
		return store.EnqueueCommand(ctx, cmd, nil)
	case models.CmdWatchAdd:
		if itemID == "" {
			return errors.New("watch_add needs -item")
		}
		return store.EnqueueCommand(ctx, cmd, &models.CommandParams{ItemID: itemID})
	}
	return fmt.Errorf("unknown command %q", name)
}

func exitOn(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

// maskConnectionString masks the password in a connection string for logging.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
