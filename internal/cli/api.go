package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proctor-quiz-service/internal/auth"
	"proctor-quiz-service/internal/config"
	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/infra/memory"
	pgstore "proctor-quiz-service/internal/infra/postgres"
	"proctor-quiz-service/internal/quizservice"
	transport "proctor-quiz-service/internal/transport/http"
)

// NewAPICmd builds the CLI subcommand serving the quiz REST API.
func NewAPICmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Start the quiz REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAPI(cmd.Context(), *configPath, *port)
		},
	}
}

func runAPI(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var store quizservice.Store = memory.NewQuizStore()
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = pgstore.NewQuizStore(pool)
	}

	quizzes := quizservice.New(store, logger)
	if cfg.Quiz.Seed {
		if err := seedQuizzes(ctx, store, quizzes, logger); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.Issuer, config.TTLDuration(cfg.Auth.TokenTTL, 8*time.Hour))

	handler := transport.NewAPIRouter(transport.APIDeps{
		API:            transport.NewAPIHandler(quizzes, logger),
		Auth:           authSvc,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Metrics:        transport.NewHTTPMetrics(registry),
		Gatherer:       registry,
	})

	server := &http.Server{
		Addr:         ":" + resolvePort(portFlag, cfg.API.Port, "5000"),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return serve(ctx, server, logger, "quiz api")
}

// seedQuizzes adds the sample catalog to an empty store.
func seedQuizzes(ctx context.Context, store quizservice.Store, quizzes *quizservice.Service, logger *zap.Logger) error {
	existing, err := store.ListQuizzes(ctx)
	if err != nil {
		return fmt.Errorf("list quizzes: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, q := range sampleQuizzes() {
		if _, err := quizzes.Create(ctx, "seed", q); err != nil {
			return fmt.Errorf("seed %q: %w", q.Title, err)
		}
	}
	logger.Info("seeded sample quizzes", zap.Int("count", len(sampleQuizzes())))
	return nil
}

// sampleQuizzes mixes every answer-marker encoding the scorer accepts.
func sampleQuizzes() []domain.Quiz {
	return []domain.Quiz{
		{
			Title:        "Arithmetic warm-up",
			TimeLimit:    2,
			PassingScore: 60,
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: domain.MarkerIndex(1)},
				{Text: "What is 3 x 3?", Options: []string{"6", "9", "12"}, CorrectAnswer: domain.MarkerText("1")},
				{Text: "Which number is even?", Options: []string{"Three", "Four", "Five"}, CorrectAnswer: domain.MarkerText("four")},
			},
		},
		{
			Title: "European capitals",
			Questions: []domain.Question{
				{Text: "Capital of Italy?", Options: []string{"Rome", "Milan", "Turin"}, CorrectAnswer: domain.MarkerIndex(0)},
				{Text: "Capital of France?", Options: []string{"Lyon", "Nice", "Paris"}, CorrectAnswer: domain.MarkerText("Paris")},
			},
		},
	}
}
