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

// Config aggregates every service-level setting.
type Config struct {
	Server   ServerConfig
	LiveChat LiveChatConfig
	AI       AIConfig
	Database DatabaseConfig
	Notify   NotifyConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	livechat, err := loadLiveChatConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		LiveChat: livechat,
		AI:       ai,
		Database: DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))},
		Notify: NotifyConfig{
			WebhookURL: strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")),
			Timeout:    10 * time.Second,
		},
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
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LiveChatConfig groups the timers and role set governing the session
// broker. Every timer is overridable so tests can run compressed clocks.
type LiveChatConfig struct {
	ClaimTimeout         time.Duration
	InactivityTimeout    time.Duration
	WarningThreshold     time.Duration
	SweepInterval        time.Duration
	WarningSweepInterval time.Duration
	HeartbeatInterval    time.Duration
	Roles                []string
	AgentTypes           []string
}

// ValidRole reports whether role is in the configured transfer-target set.
func (c LiveChatConfig) ValidRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func loadLiveChatConfig() (LiveChatConfig, error) {
	claim, err := parseDurationEnv("CLAIM_TIMEOUT", 2*time.Minute)
	if err != nil {
		return LiveChatConfig{}, err
	}

	inactivity, err := parseDurationEnv("INACTIVITY_TIMEOUT", 30*time.Minute)
	if err != nil {
		return LiveChatConfig{}, err
	}

	warning, err := parseDurationEnv("WARNING_THRESHOLD", 30*time.Second)
	if err != nil {
		return LiveChatConfig{}, err
	}

	sweep, err := parseDurationEnv("SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return LiveChatConfig{}, err
	}

	warnSweep, err := parseDurationEnv("WARNING_SWEEP_INTERVAL", 10*time.Second)
	if err != nil {
		return LiveChatConfig{}, err
	}

	heartbeat, err := parseDurationEnv("HEARTBEAT_INTERVAL", 25*time.Second)
	if err != nil {
		return LiveChatConfig{}, err
	}

	return LiveChatConfig{
		ClaimTimeout:         claim,
		InactivityTimeout:    inactivity,
		WarningThreshold:     warning,
		SweepInterval:        sweep,
		WarningSweepInterval: warnSweep,
		HeartbeatInterval:    heartbeat,
		Roles:                parseListEnv("LIVECHAT_ROLES", []string{"sales", "consultant", "support", "account"}),
		AgentTypes:           parseListEnv("AI_AGENT_TYPES", []string{"general", "sales", "automation", "support"}),
	}, nil
}

// DatabaseConfig points at the optional Postgres collaborator.
type DatabaseConfig struct {
	URL string
}

// Enabled reports whether persistence is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// NotifyConfig points at the optional admin push webhook.
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// Enabled reports whether push delivery is configured.
func (c NotifyConfig) Enabled() bool { return c.WebhookURL != "" }

// AIConfig describes the chat-model settings for the FAQ fallback responder.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel constructs a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing, set ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
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
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
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
