// Package config loads the gateway configuration from environment
// variables.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates all service settings.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Detector DetectorConfig
	Billing  BillingConfig
	Session  SessionConfig
	Storage  StorageConfig
	Secrets  SecretsConfig
}

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}
	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}
	detector, err := loadDetectorConfig()
	if err != nil {
		return nil, err
	}
	billing, err := loadBillingConfig()
	if err != nil {
		return nil, err
	}
	sessionCfg, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Detector: detector,
		Billing:  billing,
		Session:  sessionCfg,
		Storage:  StorageConfig{Path: getEnvOrDefault("DATA_PATH", "data/gateway.db")},
		Secrets:  SecretsConfig{Dir: strings.TrimSpace(os.Getenv("SECRETS_DIR"))},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the hosted model.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	HistoryLimit   int
	SystemPrompt   string
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the Ark model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: set ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 20
	if limitOverride, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if limitOverride != nil && *limitOverride > 0 {
		historyLimit = *limitOverride
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		HistoryLimit:   historyLimit,
		SystemPrompt:   strings.TrimSpace(os.Getenv("CHAT_SYSTEM_PROMPT")),
	}, nil
}

// DetectorConfig describes the remote de-identification service.
type DetectorConfig struct {
	Endpoint   string
	APIKey     string
	Categories []string
	Timeout    time.Duration
	FailOpen   bool
}

// Enabled reports whether a detector endpoint is configured.
func (c DetectorConfig) Enabled() bool {
	return c.Endpoint != ""
}

func loadDetectorConfig() (DetectorConfig, error) {
	failOpen, err := parseBoolEnv("DEIDENT_FAIL_OPEN", false)
	if err != nil {
		return DetectorConfig{}, err
	}

	timeout := 15 * time.Second
	if seconds, err := parseOptionalIntEnv("DEIDENT_TIMEOUT"); err != nil {
		return DetectorConfig{}, err
	} else if seconds != nil && *seconds > 0 {
		timeout = time.Duration(*seconds) * time.Second
	}

	var categories []string
	if raw := strings.TrimSpace(os.Getenv("DEIDENT_CATEGORIES")); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
	}

	return DetectorConfig{
		Endpoint:   strings.TrimSpace(os.Getenv("DEIDENT_ENDPOINT")),
		APIKey:     strings.TrimSpace(os.Getenv("DEIDENT_API_KEY")),
		Categories: categories,
		Timeout:    timeout,
		FailOpen:   failOpen,
	}, nil
}

// BillingConfig carries optional price overrides for the configured model.
type BillingConfig struct {
	InputPer1K  *float64
	OutputPer1K *float64
}

func loadBillingConfig() (BillingConfig, error) {
	input, err := parseOptionalFloatEnv("PRICE_INPUT_PER_1K")
	if err != nil {
		return BillingConfig{}, err
	}
	output, err := parseOptionalFloatEnv("PRICE_OUTPUT_PER_1K")
	if err != nil {
		return BillingConfig{}, err
	}
	return BillingConfig{InputPer1K: input, OutputPer1K: output}, nil
}

// SessionConfig bounds the in-memory session store.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{}

	if minutes, err := parseOptionalIntEnv("SESSION_TTL_MINUTES"); err != nil {
		return SessionConfig{}, err
	} else if minutes != nil && *minutes > 0 {
		cfg.TTL = time.Duration(*minutes) * time.Minute
	}

	if seconds, err := parseOptionalIntEnv("SESSION_SWEEP_SECONDS"); err != nil {
		return SessionConfig{}, err
	} else if seconds != nil && *seconds > 0 {
		cfg.SweepInterval = time.Duration(*seconds) * time.Second
	}

	return cfg, nil
}

// StorageConfig locates the bbolt database file.
type StorageConfig struct {
	Path string
}

// SecretsConfig locates the mounted secrets directory, if any.
type SecretsConfig struct {
	Dir string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
