// Package config loads process configuration: environment-variable driven
// settings shared by every cmd/ binary, plus the JSON/JSON5 files that
// describe the realtime account roster, the domain routing table, and the
// prefilter ruleset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings holds every environment-variable-derived setting. Names are
// preserved from the system this was ported from so operators who already
// know them don't have to relearn a new vocabulary.
type Settings struct {
	AppEnv   string
	LogLevel string

	TelegramAPIID         int
	TelegramAPIHash       string
	TelegramAccountID     string
	TelegramSessionPrefix string

	SignalsChannel   string
	SignalsAccountID string

	RealtimeExchange   string
	HistoricalExchange string
	BackfillViaRabbit  bool

	RealtimeAccounts              string
	RealtimeAssignmentTickSeconds int
	RealtimeAssignmentRedisPrefix string
	RealtimeAccountCapacityDefault *float64

	WeightAlpha float64
	WeightMin   float64

	DatabaseURL string
	AMQPURL     string
	RedisURL    string

	ScheduledChats       string
	ScheduledAccounts    string
	ScheduledHistoryDays int

	SessionCryptoKey string

	RealtimeConfigPath   string
	RoutingConfigPath    string
	PrefilterConfigPath  string

	LLMAPIBase    string
	LLMAPIKey     string
	LLMModel      string
	LLMBatchSize  int
	ReadBatchSize int
	ReadBatchTimeoutSeconds int

	NotifierBotToken   string
	NotifierTargetChat int64

	PrefilterReloadIntervalSeconds int

	HTTPAddr string

	OTELExporterEndpoint string
}

// Load reads Settings from the process environment, applying the same
// defaults as the system this was ported from, and failing fast on missing
// required fields (fatal-to-process per the error handling design).
func Load() (*Settings, error) {
	s := &Settings{
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramAccountID:     os.Getenv("TELEGRAM_ACCOUNT_ID"),
		TelegramSessionPrefix: getEnv("TELEGRAM_SESSION_PREFIX", "telegram:sessions:"),

		SignalsChannel:   os.Getenv("SIGNALS_CHANNEL"),
		SignalsAccountID: os.Getenv("SIGNALS_ACCOUNT_ID"),

		RealtimeExchange:   getEnv("REALTIME_EXCHANGE", "realtime_fanout"),
		HistoricalExchange: getEnv("HISTORICAL_EXCHANGE", "historical_fanout"),

		RealtimeAccounts:              os.Getenv("REALTIME_ACCOUNTS"),
		RealtimeAssignmentRedisPrefix: getEnv("REALTIME_ASSIGNMENT_REDIS_PREFIX", "rt:assign:"),

		ScheduledChats:    os.Getenv("SCHEDULED_CHATS"),
		ScheduledAccounts: os.Getenv("SCHEDULED_ACCOUNTS"),

		SessionCryptoKey: os.Getenv("SESSION_CRYPTO_KEY"),

		RealtimeConfigPath:  getEnv("REALTIME_CONFIG_PATH", "config/realtime.json"),
		RoutingConfigPath:   getEnv("ROUTING_CONFIG_PATH", "config/routing.json5"),
		PrefilterConfigPath: getEnv("PREFILTER_CONFIG_PATH", "config/prefilter.json5"),

		LLMAPIBase: getEnv("OPENROUTER_API_BASE", "https://openrouter.ai/api/v1"),
		LLMAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		LLMModel:   getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),

		NotifierBotToken: os.Getenv("SIGNAL_BOT_TOKEN"),

		HTTPAddr: getEnv("API_PORT", "8080"),

		OTELExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if s.TelegramAPIID, err = getEnvInt("TELEGRAM_API_ID", 0); err != nil {
		return nil, err
	}
	s.TelegramAPIHash = os.Getenv("TELEGRAM_API_HASH")

	if s.BackfillViaRabbit, err = getEnvBool("BACKFILL_VIA_RABBIT", true); err != nil {
		return nil, err
	}
	if s.RealtimeAssignmentTickSeconds, err = getEnvInt("REALTIME_ASSIGNMENT_TICK_SECONDS", 3600); err != nil {
		return nil, err
	}
	if raw := os.Getenv("REALTIME_ACCOUNT_CAPACITY_DEFAULT"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("config: REALTIME_ACCOUNT_CAPACITY_DEFAULT: %w", err)
		}
		s.RealtimeAccountCapacityDefault = &v
	}
	if s.WeightAlpha, err = getEnvFloat("WEIGHT_ALPHA", 0.7); err != nil {
		return nil, err
	}
	if s.WeightMin, err = getEnvFloat("WEIGHT_MIN", 0.05); err != nil {
		return nil, err
	}
	if s.ScheduledHistoryDays, err = getEnvInt("SCHEDULED_HISTORY_DAYS", 7); err != nil {
		return nil, err
	}
	if s.LLMBatchSize, err = getEnvInt("LLM_BATCH_SIZE", 40); err != nil {
		return nil, err
	}
	if s.ReadBatchSize, err = getEnvInt("READ_BATCH_SIZE", 70); err != nil {
		return nil, err
	}
	if s.ReadBatchTimeoutSeconds, err = getEnvInt("READ_BATCH_TIMEOUT_SECONDS", 5); err != nil {
		return nil, err
	}
	if s.PrefilterReloadIntervalSeconds, err = getEnvInt("PREFILTER_RELOAD_INTERVAL_SECONDS", 30); err != nil {
		return nil, err
	}
	if raw := os.Getenv("SIGNAL_TARGET_CHAT_ID"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: SIGNAL_TARGET_CHAT_ID: %w", err)
		}
		s.NotifierTargetChat = v
	}

	s.DatabaseURL = os.Getenv("DATABASE_URL")
	s.AMQPURL = os.Getenv("CELERY_BROKER_URL")
	s.RedisURL = os.Getenv("REDIS_URL")

	var missing []string
	if s.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if s.AMQPURL == "" {
		missing = append(missing, "CELERY_BROKER_URL")
	}
	if s.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return s, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a float: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a bool: %w", key, err)
	}
	return v, nil
}
