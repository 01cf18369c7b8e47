package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Supported storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where bankdesk stores its own data
	DSN string
	// Driver is the checkpoint and catalog storage driver (memory, sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// AI Configuration
	AILLMProvider          string // BANKDESK_AI_LLM_PROVIDER (default: gemini)
	AILLMModel             string // BANKDESK_AI_LLM_MODEL (default: gemini-2.5-flash)
	AILLMAPIKey            string // BANKDESK_AI_LLM_API_KEY
	AILLMBaseURL           string // BANKDESK_AI_LLM_BASE_URL (default depends on provider)
	AILLMMaxTokens         int    // BANKDESK_AI_LLM_MAX_TOKENS (default: 512)
	AIEmbeddingProvider    string // BANKDESK_AI_EMBEDDING_PROVIDER (default: same as LLM provider)
	AIEmbeddingModel       string // BANKDESK_AI_EMBEDDING_MODEL (default: text-embedding-004)
	AIEmbeddingAPIKey      string // BANKDESK_AI_EMBEDDING_API_KEY (default: LLM API key)
	AIEmbeddingBaseURL     string // BANKDESK_AI_EMBEDDING_BASE_URL (default: LLM base URL)
	AIEmbeddingDimensions  int    // BANKDESK_AI_EMBEDDING_DIMENSIONS (default: 768)
	AIModelTimeout         time.Duration
	AIToolTimeout          time.Duration
	AIMaxIterations        int
	AITimezone             string // BANKDESK_AI_TIMEZONE (default: Asia/Bangkok)
	AICheckpointNamespace  string // BANKDESK_AI_CHECKPOINT_NAMESPACE (default: "")
	AISessionRetentionDays int    // BANKDESK_AI_SESSION_RETENTION_DAYS (default: 30, 0 disables cleanup)

	// Toolbox Configuration
	ToolboxURL      string // BANKDESK_TOOLBOX_URL (default: http://127.0.0.1:5000)
	ToolboxManifest string // BANKDESK_TOOLBOX_MANIFEST (optional YAML tool manifest)
	ToolboxToolset  string // BANKDESK_TOOLBOX_TOOLSET (optional, loaded from the toolbox server)
	// ToolboxAuthSources are the toolbox auth sources satisfied by the
	// signed-in user's token.
	ToolboxAuthSources []string // BANKDESK_TOOLBOX_AUTH_SOURCES (default: bank_login, comma-separated)

	// Cache Configuration
	CacheRedisAddr     string // BANKDESK_CACHE_REDIS_ADDR (optional, enables the L2 cache)
	CacheRedisPassword string // BANKDESK_CACHE_REDIS_PASSWORD
	CacheRedisDB       int    // BANKDESK_CACHE_REDIS_DB

	// Rate limiting per session
	RateLimitPerSecond float64 // BANKDESK_RATE_LIMIT_RPS (default: 2)
	RateLimitBurst     int     // BANKDESK_RATE_LIMIT_BURST (default: 5)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsDurable reports whether checkpoints survive a process restart.
func (p *Profile) IsDurable() bool {
	return p.Driver == DriverSQLite || p.Driver == DriverPostgres
}

// IsAIEnabled returns true if a model endpoint can be reached.
func (p *Profile) IsAIEnabled() bool {
	return p.AILLMAPIKey != "" || p.AILLMProvider == "ollama"
}

// getEnvWithDefault returns the environment variable value or the default value.
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListEnvWithDefault splits a comma-separated variable, skipping blank entries.
func getListEnvWithDefault(key string, defaultValue []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer environment variable, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getFloatEnvWithDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("invalid number environment variable, using default", "key", key, "value", value)
		return defaultValue
	}
	return f
}

func getDurationEnvWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration environment variable, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}

// defaultBaseURL returns the OpenAI-compatible endpoint of a provider.
func defaultBaseURL(provider string) string {
	switch provider {
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta/openai/"
	case "deepseek":
		return "https://api.deepseek.com"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// FromEnv loads configuration from BANKDESK_* environment variables.
func (p *Profile) FromEnv() {
	p.AILLMProvider = getEnvWithDefault("BANKDESK_AI_LLM_PROVIDER", "gemini")
	p.AILLMModel = getEnvWithDefault("BANKDESK_AI_LLM_MODEL", "gemini-2.5-flash")
	p.AILLMAPIKey = os.Getenv("BANKDESK_AI_LLM_API_KEY")
	p.AILLMBaseURL = getEnvWithDefault("BANKDESK_AI_LLM_BASE_URL", defaultBaseURL(p.AILLMProvider))
	p.AILLMMaxTokens = getIntEnvWithDefault("BANKDESK_AI_LLM_MAX_TOKENS", 512)

	p.AIEmbeddingProvider = getEnvWithDefault("BANKDESK_AI_EMBEDDING_PROVIDER", p.AILLMProvider)
	p.AIEmbeddingModel = getEnvWithDefault("BANKDESK_AI_EMBEDDING_MODEL", "text-embedding-004")
	p.AIEmbeddingAPIKey = getEnvWithDefault("BANKDESK_AI_EMBEDDING_API_KEY", p.AILLMAPIKey)
	embeddingBaseURL := p.AILLMBaseURL
	if p.AIEmbeddingProvider != p.AILLMProvider {
		embeddingBaseURL = defaultBaseURL(p.AIEmbeddingProvider)
	}
	p.AIEmbeddingBaseURL = getEnvWithDefault("BANKDESK_AI_EMBEDDING_BASE_URL", embeddingBaseURL)
	p.AIEmbeddingDimensions = getIntEnvWithDefault("BANKDESK_AI_EMBEDDING_DIMENSIONS", 768)

	p.AIModelTimeout = getDurationEnvWithDefault("BANKDESK_AI_MODEL_TIMEOUT", 60*time.Second)
	p.AIToolTimeout = getDurationEnvWithDefault("BANKDESK_AI_TOOL_TIMEOUT", 30*time.Second)
	p.AIMaxIterations = getIntEnvWithDefault("BANKDESK_AI_MAX_ITERATIONS", 5)
	p.AITimezone = getEnvWithDefault("BANKDESK_AI_TIMEZONE", "Asia/Bangkok")
	p.AICheckpointNamespace = os.Getenv("BANKDESK_AI_CHECKPOINT_NAMESPACE")
	p.AISessionRetentionDays = getIntEnvWithDefault("BANKDESK_AI_SESSION_RETENTION_DAYS", 30)

	p.ToolboxURL = getEnvWithDefault("BANKDESK_TOOLBOX_URL", "http://127.0.0.1:5000")
	p.ToolboxManifest = os.Getenv("BANKDESK_TOOLBOX_MANIFEST")
	p.ToolboxToolset = os.Getenv("BANKDESK_TOOLBOX_TOOLSET")
	p.ToolboxAuthSources = getListEnvWithDefault("BANKDESK_TOOLBOX_AUTH_SOURCES", []string{"bank_login"})

	p.CacheRedisAddr = os.Getenv("BANKDESK_CACHE_REDIS_ADDR")
	p.CacheRedisPassword = os.Getenv("BANKDESK_CACHE_REDIS_PASSWORD")
	p.CacheRedisDB = getIntEnvWithDefault("BANKDESK_CACHE_REDIS_DB", 0)

	p.RateLimitPerSecond = getFloatEnvWithDefault("BANKDESK_RATE_LIMIT_RPS", 2)
	p.RateLimitBurst = getIntEnvWithDefault("BANKDESK_RATE_LIMIT_BURST", 5)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "":
		p.Driver = DriverMemory
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return errors.Errorf("unknown driver %q: only memory, sqlite and postgres are supported", p.Driver)
	}

	if p.Driver == DriverPostgres && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	if p.Driver == DriverSQLite {
		if p.Data == "" {
			if p.Mode == "prod" {
				if runtime.GOOS == "windows" {
					p.Data = filepath.Join(os.Getenv("ProgramData"), "bankdesk")
				} else {
					p.Data = "/var/opt/bankdesk"
				}
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			} else {
				p.Data = "."
			}
		}

		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir

		if p.DSN == "" {
			dbFile := fmt.Sprintf("bankdesk_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
	}

	if p.AIMaxIterations <= 0 {
		p.AIMaxIterations = 5
	}
	if _, err := time.LoadLocation(p.AITimezone); p.AITimezone != "" && err != nil {
		return errors.Wrapf(err, "invalid timezone %s", p.AITimezone)
	}

	return nil
}
