package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

type keySpec struct {
	key string
	typ keyType
	env string
	// account is the secret-store account for secret keys.
	account string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "CONCIERGE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CONCIERGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "engine.provider", typ: kString, env: "CONCIERGE_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.base_url", typ: kString, env: "CONCIERGE_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.chat_model", typ: kString, env: "CONCIERGE_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "CONCIERGE_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.api_key", typ: kString, env: "CONCIERGE_ENGINE_API_KEY",
		secret: true, account: "engine_api_key",
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "storage.driver", typ: kString, env: "CONCIERGE_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CONCIERGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "CONCIERGE_STORAGE_POSTGRES_DSN",
		secret: true, account: "storage_postgres_dsn",
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "bot.similarity_threshold", typ: kFloat, env: "CONCIERGE_BOT_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Bot.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Bot.SimilarityThreshold },
	},
	{
		key: "bot.top_k", typ: kInt, env: "CONCIERGE_BOT_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Bot.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.TopK },
	},
	{
		key: "bot.history_turns", typ: kInt, env: "CONCIERGE_BOT_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Bot.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.HistoryTurns },
	},
	{
		key: "bot.handler_history_turns", typ: kInt, env: "CONCIERGE_BOT_HANDLER_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Bot.HandlerHistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.HandlerHistoryTurns },
	},
	{
		key: "bot.confidence_floor", typ: kInt, env: "CONCIERGE_BOT_CONFIDENCE_FLOOR",
		apply:   func(cfg *Config, v any) { cfg.Bot.ConfidenceFloor = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.ConfidenceFloor },
	},
	{
		key: "bot.stage_timeout", typ: kDuration, env: "CONCIERGE_BOT_STAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Bot.StageTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Bot.StageTimeout },
	},
	{
		key: "bot.speculative_classification", typ: kBool, env: "CONCIERGE_BOT_SPECULATIVE_CLASSIFICATION",
		apply:   func(cfg *Config, v any) { cfg.Bot.SpeculativeClassification = v.(bool) },
		extract: func(cfg Config) any { return cfg.Bot.SpeculativeClassification },
	},
	{
		key: "bot.query_diagnostics", typ: kBool, env: "CONCIERGE_BOT_QUERY_DIAGNOSTICS",
		apply:   func(cfg *Config, v any) { cfg.Bot.QueryDiagnostics = v.(bool) },
		extract: func(cfg Config) any { return cfg.Bot.QueryDiagnostics },
	},
	{
		key: "persist.max_attempts", typ: kInt, env: "CONCIERGE_PERSIST_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Persist.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Persist.MaxAttempts },
	},
	{
		key: "persist.initial_backoff", typ: kDuration, env: "CONCIERGE_PERSIST_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Persist.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Persist.InitialBackoff },
	},
	{
		key: "takeover.backend", typ: kString, env: "CONCIERGE_TAKEOVER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Takeover.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Takeover.Backend },
	},
	{
		key: "takeover.redis_addr", typ: kString, env: "CONCIERGE_TAKEOVER_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Takeover.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Takeover.RedisAddr },
	},
	{
		key: "takeover.redis_db", typ: kInt, env: "CONCIERGE_TAKEOVER_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Takeover.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Takeover.RedisDB },
	},
	{
		key: "takeover.redis_password", typ: kString, env: "CONCIERGE_TAKEOVER_REDIS_PASSWORD",
		secret: true, account: "takeover_redis_password",
		apply:   func(cfg *Config, v any) { cfg.Takeover.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Takeover.RedisPassword },
	},
	{
		key: "ratelimit.rps", typ: kFloat, env: "CONCIERGE_RATELIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.RPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.RateLimit.RPS },
	},
	{
		key: "ratelimit.burst", typ: kInt, env: "CONCIERGE_RATELIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.Burst },
	},
	{
		key: "log.level", typ: kString, env: "CONCIERGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "CONCIERGE_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw into the Go value stored for the key type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets the environment left empty from the secret store.
func applySecrets(cfg *Config, kc SecretReader) {
	if kc == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		v, err := kc.Get(Service, s.account)
		if err != nil || v == "" {
			continue
		}
		s.apply(cfg, v)
	}
}
