package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"ticket-reservation-bot/engine"
	"ticket-reservation-bot/selector"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

type Config struct {
	HTTPPort         int           `envconfig:"BOT_HTTP_PORT" default:"8080"`
	LogLevel         string        `envconfig:"BOT_LOG_LEVEL" default:"info"`
	APIBaseURL       string        `envconfig:"BOT_API_BASE_URL" default:"https://api.kide.app"`
	SignReservations bool          `envconfig:"BOT_SIGN_RESERVATIONS" default:"true"`
	VariantFilter    string        `envconfig:"BOT_VARIANT_FILTER" default:"active"`
	BootStagger      time.Duration `envconfig:"BOT_BOOT_STAGGER" default:"85ms"`

	EventID           string   `envconfig:"BOT_EVENT_ID"`
	ThreadCount       int      `envconfig:"BOT_THREAD_COUNT" default:"10"`
	PollIntervalMs    int      `envconfig:"BOT_POLL_INTERVAL_MS" default:"200"`
	RequestTimeoutMs  int      `envconfig:"BOT_REQUEST_TIMEOUT_MS" default:"500"`
	StrictPriority    bool     `envconfig:"BOT_STRICT_PRIORITY"`
	AutoStop          bool     `envconfig:"BOT_AUTO_STOP"`
	UseCustomQuantity bool     `envconfig:"BOT_USE_CUSTOM_QUANTITY"`
	CustomQuantity    int      `envconfig:"BOT_CUSTOM_QUANTITY" default:"1"`
	Priorities        []string `envconfig:"BOT_PRIORITIES"`
	PriorityFile      string   `envconfig:"BOT_PRIORITY_FILE"`
	BearerToken       string   `envconfig:"BOT_BEARER_TOKEN"`
	AutoStart         bool     `envconfig:"BOT_AUTO_START"`

	PubsubTopic     string `envconfig:"BOT_PUBSUB_TOPIC"`
	Subscription    string `envconfig:"BOT_PUBSUB_SUBSCRIPTION"`
	PubsubProjectID string `envconfig:"BOT_PUBSUB_PROJECT_ID"`
	CredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	GoogleProjectID string `ignored:"true"`
}

// Load reads the environment (and .env) and resolves the priority list and
// the Google project.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.trim()
	if len(cfg.Priorities) > selector.MaxPriorityItems {
		return nil, fmt.Errorf("BOT_PRIORITIES: %d items, at most %d allowed", len(cfg.Priorities), selector.MaxPriorityItems)
	}

	if cfg.PriorityFile != "" {
		if err := cfg.UsePriorityFile(cfg.PriorityFile); err != nil {
			return nil, err
		}
	}

	if cfg.PubsubTopic != "" || cfg.Subscription != "" {
		cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, cfg.PubsubProjectID)
		if cfg.GoogleProjectID == "" {
			log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or BOT_PUBSUB_PROJECT_ID")
		}
	}
	return &cfg, nil
}

func (c *Config) trim() {
	c.LogLevel = strings.TrimSpace(c.LogLevel)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.EventID = strings.TrimSpace(c.EventID)
	c.BearerToken = strings.TrimSpace(c.BearerToken)
	c.PubsubTopic = strings.TrimSpace(c.PubsubTopic)
	c.Subscription = strings.TrimSpace(c.Subscription)
	c.PubsubProjectID = strings.TrimSpace(c.PubsubProjectID)
	c.CredentialsFile = strings.TrimSpace(c.CredentialsFile)
	prio := make([]string, 0, len(c.Priorities))
	for _, p := range c.Priorities {
		if p = strings.TrimSpace(p); p != "" {
			prio = append(prio, p)
		}
	}
	c.Priorities = prio
}

// UsePriorityFile replaces the priority list with the one stored in path.
func (c *Config) UsePriorityFile(path string) error {
	prio, err := LoadPriorityFile(path)
	if err != nil {
		return err
	}
	c.PriorityFile = path
	c.Priorities = prio
	log.Info().Str("file", path).Int("items", len(prio)).Msg("priority list loaded from file")
	return nil
}

type priorityEntry struct {
	Match string
}

// UnmarshalYAML accepts either a bare string or a {match: ...} mapping.
func (e *priorityEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Match = n.Value
		return nil
	}
	var item selector.PriorityItem
	if err := n.Decode(&item); err != nil {
		return err
	}
	e.Match = item.Match
	return nil
}

// LoadPriorityFile reads a YAML document of the form
//
//	priorities:
//	  - VIP
//	  - match: Standing
//
// Entries are ranked in file order.
func LoadPriorityFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priority file: %w", err)
	}
	var doc struct {
		Priorities []priorityEntry `yaml:"priorities"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse priority file %s: %w", path, err)
	}
	if len(doc.Priorities) > selector.MaxPriorityItems {
		return nil, fmt.Errorf("priority file %s: %d items, at most %d allowed", path, len(doc.Priorities), selector.MaxPriorityItems)
	}
	out := make([]string, 0, len(doc.Priorities))
	for _, e := range doc.Priorities {
		out = append(out, strings.TrimSpace(e.Match))
	}
	return out, nil
}

// Settings builds the initial engine settings.
func (c *Config) Settings() engine.Settings {
	return engine.Settings{
		EventID:           c.EventID,
		ThreadCount:       c.ThreadCount,
		PollIntervalMs:    c.PollIntervalMs,
		RequestTimeoutMs:  c.RequestTimeoutMs,
		StrictPriority:    c.StrictPriority,
		AutoStop:          c.AutoStop,
		UseCustomQuantity: c.UseCustomQuantity,
		CustomQuantity:    c.CustomQuantity,
		Filter:            selector.FilterPolicy(c.VariantFilter),
		Priorities:        append([]string{}, c.Priorities...),
	}
}

// PubsubEnabled reports whether enough is set to talk to Pub/Sub.
func (c *Config) PubsubEnabled() bool {
	return c.GoogleProjectID != "" && (c.PubsubTopic != "" || c.Subscription != "")
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.HTTPPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"httpPort":            c.HTTPPort,
		"logLevel":            c.LogLevel,
		"apiBaseURL":          c.APIBaseURL,
		"signReservations":    c.SignReservations,
		"variantFilter":       c.VariantFilter,
		"bootStagger":         c.BootStagger.String(),
		"eventId":             c.EventID,
		"threadCount":         c.ThreadCount,
		"pollIntervalMs":      c.PollIntervalMs,
		"requestTimeoutMs":    c.RequestTimeoutMs,
		"priorities":          len(c.Priorities),
		"autoStart":           c.AutoStart,
		"bearerTokenProvided": c.BearerToken != "",
		"projectID":           c.GoogleProjectID,
		"controlSubscription": c.Subscription,
		"noticeTopic":         c.PubsubTopic,
		"credentialsProvided": c.CredentialsFile != "",
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		log.Debug().Err(err).Str("credsFile", path).Msg("credentials file is not valid JSON")
	}
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Prefer GOOGLE_APPLICATION_CREDENTIALS if set
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		log.Info().Str("credsFile", p).Msg("GOOGLE_APPLICATION_CREDENTIALS is set; extracting project_id from credentials file")
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit override
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using BOT_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	// 3) External override
	if v := strings.TrimSpace(os.Getenv("GOOGLE_PROJECT_ID")); v != "" {
		log.Info().Str("projectID", v).Msg("using GOOGLE_PROJECT_ID from environment")
		return v
	}

	// 4) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("using Google project from common environment variables")
		return v
	}

	// 5) Fallback to provided credentials file path
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from provided credentials file")
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
