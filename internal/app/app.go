// Package app wires configuration into the long-lived services shared by
// the HTTP server and the one-shot CLI.
package app

import (
	"context"
	"fmt"

	"dailybugs-backend/internal/config"
	"dailybugs-backend/internal/db"
	"dailybugs-backend/internal/delivery"
	"dailybugs-backend/internal/github"
	"dailybugs-backend/internal/llm"
	"dailybugs-backend/internal/logger"
	"dailybugs-backend/internal/pipeline"
	"dailybugs-backend/internal/store"
)

type Services struct {
	Store  store.Store
	GitHub *github.APIClient
	Runner *pipeline.Runner

	database *db.DB
}

// New opens the configured store and builds the workflow runner. Delivery
// transports without credentials are left out; runs that need them fail at
// dispatch.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*Services, error) {
	svc := &Services{GitHub: github.NewAPIClient("")}

	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database connection established")
		svc.database = database
		svc.Store = store.NewDatabaseStore(database)
	} else {
		fs, err := store.NewFileStore(cfg.DataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open data file: %w", err)
		}
		log.Warnf("DB_URL not provided, using file storage at %s", cfg.DataFile)
		svc.Store = fs
	}

	prompt, err := llm.LoadPromptSpec(cfg.OpenAI.PromptFile)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to load prompt spec: %w", err)
	}

	deps := pipeline.Deps{
		Store:  svc.Store,
		GitHub: svc.GitHub,
		Model:  llm.NewOpenAIModel(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, prompt),
		Prompt: prompt,
		Steps:  svc.Store,
		Log:    log,
	}
	if cfg.Delivery.ResendAPIKey != "" {
		deps.Email = delivery.NewResendMailer(cfg.Delivery.ResendAPIKey, cfg.Delivery.EmailFrom, cfg.GitHub.ClientID)
	} else {
		log.Warn("RESEND_API_KEY not provided, email delivery disabled")
	}
	if cfg.Delivery.DiscordWebhookURL != "" {
		deps.Chat = delivery.NewDiscordWebhook(cfg.Delivery.DiscordWebhookURL)
	} else {
		log.Warn("DISCORD_WEBHOOK_URL not provided, discord delivery disabled")
	}
	svc.Runner = pipeline.NewRunner(deps)
	return svc, nil
}

func (s *Services) Close() error {
	if s.database != nil {
		return s.database.Close()
	}
	return nil
}
