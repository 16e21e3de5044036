package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"line-relay/internal/integrations/openai"
	"line-relay/internal/integrations/weather"
)

var (
	ErrMissingMessagingCredentials = errors.New("config: LINE_CHANNEL_SECRET and LINE_CHANNEL_ACCESS_TOKEN are required")
	ErrMissingProviderCredentials  = errors.New("config: completion and weather credentials are required")
)

const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
)

// Parameter store names, relative to PARAM_PREFIX.
const (
	ParamChannelSecret  = "line-channel-secret"
	ParamChannelToken   = "line-channel-access-token"
	ParamOpenAIEndpoint = "azure-openai-endpoint"
	ParamOpenAIKey      = "open-ai-token"
	ParamWeatherKey     = "openweathermap-api-key"
)

// ParamsGetter batch-reads parameters; *paramstore.Client satisfies it.
type ParamsGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

type Config struct {
	ChannelSecret string
	ChannelToken  string

	OpenAIEndpoint   string
	OpenAIKey        string
	OpenAIDeployment string
	OpenAIAPIVersion string
	// OpenAIKeyParam names the parameter the completion client reads its key
	// from on first use, when OpenAIKey is empty.
	OpenAIKeyParam string

	WeatherKey string
	WeatherLat float64
	WeatherLon float64

	ParamPrefix string

	SessionStore string
	SessionTable string
	SessionTTL   time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel slog.Level
	Addr     string
}

// FromEnv reads the configuration through getenv. Unparsable numbers fall
// back to their defaults.
func FromEnv(getenv func(string) string) Config {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	c := Config{
		ChannelSecret:    get("LINE_CHANNEL_SECRET"),
		ChannelToken:     get("LINE_CHANNEL_ACCESS_TOKEN"),
		OpenAIEndpoint:   get("AZURE_OPENAI_ENDPOINT"),
		OpenAIKey:        get("AZURE_OPENAI_KEY"),
		OpenAIDeployment: orDefault(get("AZURE_OPENAI_DEPLOYMENT"), openai.DefaultDeployment),
		OpenAIAPIVersion: orDefault(get("AZURE_OPENAI_API_VERSION"), openai.DefaultAPIVersion),
		WeatherKey:       get("OPENWEATHERMAP_API_KEY"),
		WeatherLat:       envFloat(get("WEATHER_LAT"), weather.DefaultLatitude),
		WeatherLon:       envFloat(get("WEATHER_LON"), weather.DefaultLongitude),
		ParamPrefix:      strings.TrimRight(get("PARAM_PREFIX"), "/"),
		SessionStore:     strings.ToLower(orDefault(get("SESSION_STORE"), StoreMemory)),
		SessionTable:     get("SESSION_TABLE"),
		SessionTTL:       time.Duration(envInt(get("SESSION_TTL_HOURS"), 24)) * time.Hour,
		RateLimitRPS:     envFloat(get("RATE_LIMIT_RPS"), 1),
		RateLimitBurst:   envInt(get("RATE_LIMIT_BURST"), 5),
		LogLevel:         ParseLevel(get("LOG_LEVEL")),
		Addr:             orDefault(get("ADDR"), ":8000"),
	}
	if c.OpenAIKey == "" && c.ParamPrefix != "" {
		c.OpenAIKeyParam = c.param(ParamOpenAIKey)
	}
	return c
}

func (c *Config) param(name string) string {
	return c.ParamPrefix + "/" + name
}

// FillSecrets reads every secret still missing from the parameter store in
// one batch. The completion key is left to OpenAIKeyParam. A no-op without
// PARAM_PREFIX.
func (c *Config) FillSecrets(ctx context.Context, params ParamsGetter) error {
	if c.ParamPrefix == "" {
		return nil
	}
	if params == nil {
		return errors.New("config: parameter store must not be nil")
	}

	targets := map[string]*string{}
	for name, field := range map[string]*string{
		ParamChannelSecret:  &c.ChannelSecret,
		ParamChannelToken:   &c.ChannelToken,
		ParamOpenAIEndpoint: &c.OpenAIEndpoint,
		ParamWeatherKey:     &c.WeatherKey,
	} {
		if *field == "" {
			targets[c.param(name)] = field
		}
	}
	if len(targets) == 0 {
		return nil
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	values, err := params.GetParameters(ctx, names)
	if err != nil {
		return fmt.Errorf("config: read secrets: %w", err)
	}
	for name, field := range targets {
		*field = strings.TrimSpace(values[name])
	}
	return nil
}

// Validate reports the first configuration problem that must stop startup.
func (c *Config) Validate() error {
	if c.ChannelSecret == "" || c.ChannelToken == "" {
		return ErrMissingMessagingCredentials
	}
	if c.OpenAIEndpoint == "" || (c.OpenAIKey == "" && c.OpenAIKeyParam == "") || c.WeatherKey == "" {
		return ErrMissingProviderCredentials
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreDynamoDB:
		if c.SessionTable == "" {
			return errors.New("config: SESSION_TABLE is required when SESSION_STORE=dynamodb")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_STORE %q", c.SessionStore)
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func envInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(v string, def float64) float64 {
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
