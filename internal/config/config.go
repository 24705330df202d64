package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service is the secret-store service name every secret is filed under.
const Service = "concierge"

const defaultOllamaURL = "http://localhost:11434"

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Bot       BotConfig
	Persist   PersistConfig
	Takeover  TakeoverConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type EngineConfig struct {
	Provider   string
	BaseURL    string
	ChatModel  string
	EmbedModel string
	APIKey     string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type BotConfig struct {
	SimilarityThreshold float64
	TopK                int
	// HistoryTurns is the classifier window; handlers use HandlerHistoryTurns.
	HistoryTurns              int
	HandlerHistoryTurns       int
	ConfidenceFloor           int
	StageTimeout              time.Duration
	SpeculativeClassification bool
	QueryDiagnostics          bool
}

type PersistConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

type TakeoverConfig struct {
	Backend       string
	RedisAddr     string
	RedisDB       int
	RedisPassword string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type LogConfig struct {
	Level string
	File  string
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4080,
		},
		Engine: EngineConfig{
			Provider:   "ollama",
			BaseURL:    defaultOllamaURL,
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Bot: BotConfig{
			SimilarityThreshold: 0.6,
			TopK:                5,
			HistoryTurns:        3,
			HandlerHistoryTurns: 6,
			ConfidenceFloor:     5,
			StageTimeout:        8 * time.Second,
		},
		Persist: PersistConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
		},
		Takeover: TakeoverConfig{
			Backend: "store",
		},
		RateLimit: RateLimitConfig{
			RPS:   2,
			Burst: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in increasing precedence: defaults, the
// platform-native backend, a .env file in the working directory, CONCIERGE_*
// environment variables, and finally the platform secret store for secrets
// still unset.
//
// On macOS the backend is UserDefaults (domain: com.hotelbook.concierge) and
// secrets fall back to the macOS Keychain. Elsewhere the backend is a JSON
// file at $XDG_CONFIG_HOME/concierge/config.json and secrets fall back to
// $XDG_DATA_HOME/concierge/secrets.json.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), NewKeychain())
}

// loadDotEnv exports the variables of path that are not already set. A
// missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("reading %s: %w", path, err)
}

// SecretReader reads one secret from the platform secret store.
type SecretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc SecretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	// The Ollama default URL means nothing to hosted providers; let them use
	// their own endpoint.
	if cfg.Engine.Provider != "ollama" && cfg.Engine.BaseURL == defaultOllamaURL {
		cfg.Engine.BaseURL = ""
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var problems []string
	switch c.Engine.Provider {
	case "ollama":
	case "openai", "gemini":
		if c.Engine.APIKey == "" {
			problems = append(problems, fmt.Sprintf("engine.api_key is required for provider %q (set CONCIERGE_ENGINE_API_KEY%s)", c.Engine.Provider, secretHint("engine_api_key")))
		}
	default:
		problems = append(problems, fmt.Sprintf("engine.provider must be ollama, openai or gemini, got %q", c.Engine.Provider))
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required for the postgres driver (set CONCIERGE_STORAGE_POSTGRES_DSN"+secretHint("storage_postgres_dsn")+")")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver))
	}
	switch c.Takeover.Backend {
	case "store":
	case "redis":
		if c.Takeover.RedisAddr == "" {
			problems = append(problems, "takeover.redis_addr is required for the redis takeover backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("takeover.backend must be store or redis, got %q", c.Takeover.Backend))
	}
	if c.Bot.SimilarityThreshold <= 0 || c.Bot.SimilarityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("bot.similarity_threshold must be in (0, 1], got %v", c.Bot.SimilarityThreshold))
	}
	if c.Bot.ConfidenceFloor < 1 || c.Bot.ConfidenceFloor > 10 {
		problems = append(problems, fmt.Sprintf("bot.confidence_floor must be between 1 and 10, got %d", c.Bot.ConfidenceFloor))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
