package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	FrontendURL   string
	Log           LogConfig
	OpenAI        OpenAIConfig
	// Storage. DatabaseURL wins over DataFile when both are set.
	DatabaseURL   string
	MigrationsDir string
	DataFile      string
	GitHub        GitHubConfig
	Delivery      DeliveryConfig
	Schedule      ScheduleConfig
}

type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// Optional override for the embedded analysis prompt.
	PromptFile string
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

type DeliveryConfig struct {
	ResendAPIKey      string
	EmailFrom         string
	DiscordWebhookURL string
}

type ScheduleConfig struct {
	// Hour of day (UTC) at which the daily runs start.
	Hour       int
	Attempts   int
	RetryDelay time.Duration
	// Committed workflow steps older than this are pruned.
	Retention time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Config{
		Port:          getEnvDefault("PORT", "8080"),
		AllowedOrigin: getEnvDefault("ALLOWED_ORIGIN", "*"),
		FrontendURL:   getEnvDefault("FRONTEND_URL", "http://localhost:5173"),
		Log: LogConfig{
			Level:  getEnvDefault("LOG_LEVEL", "info"),
			Format: getEnvDefault("LOG_FORMAT", "json"),
		},
		OpenAI: OpenAIConfig{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			Model:      getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			PromptFile: os.Getenv("PROMPT_FILE"),
		},
		DatabaseURL:   os.Getenv("DB_URL"),
		MigrationsDir: getEnvDefault("MIGRATIONS_DIR", "./migrations"),
		DataFile:      getEnvDefault("DATA_FILE", "data/dailybugs.json"),
		GitHub: GitHubConfig{
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  getEnvDefault("GITHUB_REDIRECT_URL", "http://localhost:8080/api/github/callback"),
			Scopes:       getEnvListDefault("GITHUB_OAUTH_SCOPES", []string{"read:user", "user:email"}),
		},
		Delivery: DeliveryConfig{
			ResendAPIKey:      os.Getenv("RESEND_API_KEY"),
			EmailFrom:         getEnvDefault("EMAIL_FROM", "bugs@dailybugs.dev"),
			DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		},
		Schedule: ScheduleConfig{
			Hour:       getEnvAsInt("SCHEDULE_HOUR", 6),
			Attempts:   getEnvAsInt("RUN_ATTEMPTS", 3),
			RetryDelay: getEnvAsDuration("RUN_RETRY_DELAY", time.Minute),
			Retention:  getEnvAsDuration("STEP_RETENTION", 7*24*time.Hour),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with. Missing API keys
// are allowed; the affected capability fails at call time instead.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port: %q", c.Port)
	}
	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		return fmt.Errorf("invalid schedule hour: %d", c.Schedule.Hour)
	}
	if c.Schedule.Attempts < 1 {
		return fmt.Errorf("run attempts must be at least 1, got %d", c.Schedule.Attempts)
	}
	if c.Schedule.Retention < 24*time.Hour {
		return fmt.Errorf("step retention must cover at least a day, got %s", c.Schedule.Retention)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}
