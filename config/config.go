package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"brassradar/marketplace"
)

const DefaultProfilePath = "config/search.yaml"

type Config struct {
	Ebay        EbayConfig
	Search      SearchProfile
	Scheduler   SchedulerConfig
	Proxy       ProxyConfig
	Notify      NotifyConfig
	S3          S3Config
	DBPath      string
	DatabaseURL string
	ImageDir    string
	LogLevel    string
	LogFile     string
}

type EbayConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Scope        string
	// RequestsPerSecond paces every API call, token exchange included.
	RequestsPerSecond float64
}

type SchedulerConfig struct {
	IngestInterval time.Duration
	IngestCron     string
	WatchInterval  time.Duration
	WatchCron      string
	WatchLookahead time.Duration
}

type ProxyConfig struct {
	URL string
}

type NotifyConfig struct {
	NtfyURL   string
	NtfyTopic string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string
	SMTPTo   string

	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
	AMQPQueue      string

	KafkaBroker string
	KafkaTopic  string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// SearchProfile is the YAML-configured search matrix, keyword lists and
// currency table.
type SearchProfile struct {
	Marketplaces      []string           `yaml:"marketplaces"`
	SearchTerms       []string           `yaml:"search_terms"`
	CategoryIDs       []string           `yaml:"category_ids"`
	BuyingOptions     []string           `yaml:"buying_options"`
	MaxResults        int                `yaml:"max_results"`
	PageSize          int                `yaml:"page_size"`
	Allow             []string           `yaml:"allow"`
	Deny              []string           `yaml:"deny"`
	Brands            []Brand            `yaml:"brands"`
	ReferenceCurrency string             `yaml:"reference_currency"`
	Currencies        map[string]float64 `yaml:"currencies"`
	FetchImages       *bool              `yaml:"fetch_images"`
}

type Brand struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

func (p *SearchProfile) ImagesEnabled() bool {
	return p.FetchImages == nil || *p.FetchImages
}

func Load(profilePath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Ebay: EbayConfig{
			ClientID:          os.Getenv("EBAY_CLIENT_ID"),
			ClientSecret:      os.Getenv("EBAY_CLIENT_SECRET"),
			BaseURL:           getEnv("EBAY_API_URL", "https://api.ebay.com"),
			Scope:             getEnv("EBAY_SCOPE", "https://api.ebay.com/oauth/api_scope"),
			RequestsPerSecond: getEnvFloat("MARKETPLACE_RPS", 5),
		},
		Scheduler: SchedulerConfig{
			IngestCron:     os.Getenv("INGEST_CRON"),
			IngestInterval: getEnvDuration("INGEST_INTERVAL", 0),
			WatchCron:      os.Getenv("WATCH_CRON"),
			WatchInterval:  getEnvDuration("WATCH_INTERVAL", 0),
			WatchLookahead: getEnvDuration("WATCH_LOOKAHEAD", 15*time.Minute),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("HTTP_PROXY_URL"),
		},
		Notify: NotifyConfig{
			NtfyURL:        strings.TrimRight(getEnv("NTFY_URL", "https://ntfy.sh"), "/"),
			NtfyTopic:      os.Getenv("NTFY_TOPIC"),
			SMTPHost:       os.Getenv("SMTP_HOST"),
			SMTPPort:       getEnvInt("SMTP_PORT", 465),
			SMTPUser:       os.Getenv("SMTP_USER"),
			SMTPPass:       os.Getenv("SMTP_PASS"),
			SMTPFrom:       os.Getenv("SMTP_FROM"),
			SMTPTo:         os.Getenv("SMTP_TO"),
			AMQPURL:        os.Getenv("AMQP_URL"),
			AMQPExchange:   getEnv("AMQP_EXCHANGE", "brassradar"),
			AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "auction.ended"),
			AMQPQueue:      os.Getenv("AMQP_QUEUE"),
			KafkaBroker:    os.Getenv("KAFKA_BROKER"),
			KafkaTopic:     getEnv("KAFKA_TOPIC", "brassradar.notifications"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		DBPath:      getEnv("DB_PATH", "brassradar.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ImageDir:    getEnv("IMAGE_DIR", "images"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "brassradar.log"),
	}

	if profilePath == "" {
		profilePath = getEnv("SEARCH_PROFILE", DefaultProfilePath)
	}
	profile, err := LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	cfg.Search = *profile

	return cfg, nil
}

// LoadProfile reads a search profile. A missing file yields the defaults.
func LoadProfile(path string) (*SearchProfile, error) {
	p := &SearchProfile{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), p); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", path, err)
		}
	}
	p.setDefaults()
	return p, nil
}

func (p *SearchProfile) setDefaults() {
	if len(p.Marketplaces) == 0 {
		p.Marketplaces = []string{"EBAY_US", "EBAY_DE", "EBAY_GB", "EBAY_FR", "EBAY_IT", "EBAY_AT", "EBAY_AU"}
	}
	if len(p.SearchTerms) == 0 {
		p.SearchTerms = []string{`"Micro-Metakit"`, `"Micro-Feinmechanik"`}
	}
	if len(p.BuyingOptions) == 0 {
		p.BuyingOptions = []string{"FIXED_PRICE", "AUCTION"}
	}
	if p.MaxResults <= 0 {
		p.MaxResults = 300
	}
	if p.PageSize <= 0 {
		p.PageSize = 50
	}
	if p.PageSize > 200 {
		p.PageSize = 200
	}
	if p.Allow == nil {
		p.Allow = []string{"brass", "lok", "lokomotive", "locomotive", "zug", "train", "dampflok", "diesel",
			"ho", "h0", "h-o", "model", "modell", "bahn"}
	}
	if p.Deny == nil {
		p.Deny = []string{"wiha", "schraubendreher", "screwdriver", "bit set", "werkzeug", "tool", "spanner", "pliers"}
	}
	if len(p.Brands) == 0 {
		p.Brands = []Brand{
			{Name: "Micro-Metakit", Keywords: []string{"micro-metakit", "micro metakit", "metakit"}},
			{Name: "Micro-Feinmechanik", Keywords: []string{"micro-feinmechanik", "micro feinmechanik", "feinmechanik"}},
		}
	}
	if p.ReferenceCurrency == "" {
		p.ReferenceCurrency = "USD"
	}
	if len(p.Currencies) == 0 {
		p.Currencies = map[string]float64{"USD": 1.0, "EUR": 0.92, "GBP": 0.78, "AUD": 1.48}
	}
}

// Validate reports configuration that makes any pass impossible.
func (c *Config) Validate() error {
	if c.Ebay.ClientID == "" || c.Ebay.ClientSecret == "" {
		return fmt.Errorf("EBAY_CLIENT_ID and EBAY_CLIENT_SECRET must be set: %w", marketplace.ErrMissingCredentials)
	}
	if len(c.Search.Marketplaces) == 0 || len(c.Search.SearchTerms) == 0 {
		return errors.New("search profile needs at least one marketplace and one term")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
