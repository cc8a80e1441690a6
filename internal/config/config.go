package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig
	Web       WebConfig
	Storage   StorageConfig
	Inference InferenceConfig
	Ollama    OllamaConfig
	LlamaCpp  LlamaCppConfig
	Gemini    GeminiConfig
	OpenAI    OpenAIConfig
	Telegram  TelegramConfig
	Mail      MailConfig
	S3        S3Config
	Matching  MatchingConfig
	Pipeline  PipelineConfig
}

type LoggingConfig struct {
	Env   string // prod, local or dev (defaults to local)
	Level string // overrides the environment default level
}

type WebConfig struct {
	APIToken  string // bearer token required on /api/v1, the server refuses to start without one
	ImageRoot string // directory local image references must resolve inside, empty = local files disabled
}

type StorageConfig struct {
	Driver      string   // sqlite, redis, postgres or memory (defaults to sqlite)
	Path        string   // sqlite file path (defaults to camflow.db)
	RedisAddrs  []string // comma separated in CAMFLOW_REDIS_ADDRS
	RedisPass   string
	DatabaseURL string // PostgreSQL connection URL
	KeyPrefix   string // prefix applied to every key (defaults to camflow:)
}

type InferenceConfig struct {
	URL           string // face detection / embedding sidecar, defaults to http://localhost:8000
	Dim           int    // expected embedding length, 0 = taken from the first result
	MemoryLimitMB int    // memory budget the extractor measures pressure against, 0 = GOMEMLIMIT
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type LlamaCppConfig struct {
	URL string // on-device llama.cpp server, defaults to http://localhost:8080
}

type GeminiConfig struct {
	APIKey string
}

type OpenAIConfig struct {
	Token string
}

type TelegramConfig struct {
	BotToken string
	APIURL   string // defaults to https://api.telegram.org
}

type MailConfig struct {
	APIURL      string // defaults to https://gmail.googleapis.com
	AccessToken string // pre-authenticated session token, empty = signed out
	From        string
}

type S3Config struct {
	Region    string
	Endpoint  string // optional custom endpoint (MinIO etc.)
	AccessKey string // static credentials, empty = default AWS chain
	SecretKey string
}

type MatchingConfig struct {
	Threshold     float64 // defaults to 0.7
	Index         string  // linear, hnsw or pgvector (defaults to linear)
	HNSWIndexPath string  // optional snapshot path for the HNSW index
}

type PipelineConfig struct {
	InterImagePause time.Duration
	ImageCacheSize  int
	ImageCacheTTL   time.Duration
	SweepSpec       string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("300ms", "2s").
// Zero is accepted so pauses can be disabled.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	return &Config{
		Logging: LoggingConfig{
			Env:   envString("CAMFLOW_ENV", "local"),
			Level: os.Getenv("CAMFLOW_LOG_LEVEL"),
		},
		Web: WebConfig{
			APIToken:  os.Getenv("CAMFLOW_API_TOKEN"),
			ImageRoot: os.Getenv("CAMFLOW_IMAGE_ROOT"),
		},
		Storage: StorageConfig{
			Driver:      envString("CAMFLOW_STORAGE", "sqlite"),
			Path:        envString("CAMFLOW_DB_PATH", "camflow.db"),
			RedisAddrs:  envList("CAMFLOW_REDIS_ADDRS"),
			RedisPass:   os.Getenv("CAMFLOW_REDIS_PASSWORD"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			KeyPrefix:   envString("CAMFLOW_KEY_PREFIX", "camflow:"),
		},
		Inference: InferenceConfig{
			URL:           os.Getenv("INFERENCE_URL"),
			Dim:           envInt("EMBEDDING_DIM", 0),
			MemoryLimitMB: envInt("INFERENCE_MEMORY_LIMIT_MB", 0),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		LlamaCpp: LlamaCppConfig{
			URL: os.Getenv("LLAMACPP_URL"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			APIURL:   envString("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		Mail: MailConfig{
			APIURL:      envString("MAIL_API_URL", "https://gmail.googleapis.com"),
			AccessToken: os.Getenv("MAIL_ACCESS_TOKEN"),
			From:        os.Getenv("MAIL_FROM"),
		},
		S3: S3Config{
			Region:    os.Getenv("S3_REGION"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
		Matching: MatchingConfig{
			Threshold:     envFloat("MATCH_THRESHOLD", 0.7),
			Index:         envString("MATCH_INDEX", "linear"),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Pipeline: PipelineConfig{
			InterImagePause: envDuration("PIPELINE_PAUSE", 300*time.Millisecond),
			ImageCacheSize:  envInt("IMAGE_CACHE_SIZE", 64),
			ImageCacheTTL:   envDuration("IMAGE_CACHE_TTL", 10*time.Minute),
			SweepSpec:       envString("SWEEP_SPEC", "*/5 * * * *"),
		},
	}
}

// MemoryLimitBytes returns the configured extractor memory budget in bytes.
func (c *InferenceConfig) MemoryLimitBytes() uint64 {
	if c.MemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.MemoryLimitMB) * 1024 * 1024
}

// TelegramEnabled reports whether the direct-message channel can be used.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}
