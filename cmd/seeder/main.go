package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"liqzones/internal/adapters/config"
	pgadapter "liqzones/internal/adapters/postgres"
	"liqzones/internal/ml/zonepredictor"
	pgrepo "liqzones/internal/repository/postgres"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// seedFunc writes seed data for one coin
type seedFunc func(ctx context.Context, repo *pgrepo.OutcomeRepository, coin string) error

func main() {
	env := flag.String("env", "dev", "Environment: dev, test")
	coins := flag.String("coins", "", "Comma separated coins, defaults to ENGINE_SYMBOLS")
	dryRun := flag.Bool("dry-run", false, "List seed functions without executing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()

	targets := cfg.Engine.Symbols
	if *coins != "" {
		targets = strings.Split(*coins, ",")
	}

	log.Infow("Starting seeder",
		"environment", *env,
		"dry_run", *dryRun,
		"database", cfg.Postgres.Database,
		"coins", targets,
	)

	funcs := getSeedFunctions(*env)
	if len(funcs) == 0 {
		log.Warnw("No seeds available for environment", "environment", *env)
		return
	}
	if *dryRun {
		log.Infow("Dry-run mode: seed functions validated", "count", len(funcs))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := pgadapter.NewClient(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer client.Close()

	if err := pgrepo.EnsureSchema(ctx, client.DB()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	repo := pgrepo.NewOutcomeRepository(client.DB())

	for _, raw := range targets {
		coin := strings.ToUpper(strings.TrimSpace(raw))
		if coin == "" {
			continue
		}
		for i, fn := range funcs {
			if err := fn(ctx, repo, coin); err != nil {
				log.Errorw("Failed to execute seed", "coin", coin, "step", i+1, "error", err)
				return
			}
		}
		log.Infow("Seeded coin", "coin", coin)
	}

	log.Info("All seeds applied successfully")
}

// getSeedFunctions returns seed functions for the given environment
func getSeedFunctions(env string) []seedFunc {
	switch env {
	case "dev":
		return []seedFunc{syntheticOutcomes(200, 42)}
	case "test":
		return []seedFunc{syntheticOutcomes(zonepredictor.MinTrainingSamples, 7)}
	default:
		return nil
	}
}

// syntheticOutcomes stores n generated lifecycle records so the trainer has
// history before live outcomes accumulate. Coins that already have at least n
// records are left alone.
func syntheticOutcomes(n int, seed uint64) seedFunc {
	return func(ctx context.Context, repo *pgrepo.OutcomeRepository, coin string) error {
		existing, err := repo.CountByCoin(ctx, coin)
		if err != nil {
			return err
		}
		if existing >= n {
			return nil
		}

		records := zonepredictor.GenerateSynthetic(n-existing, seed, time.Now().UTC())
		for i := range records {
			rec := records[i]
			rec.Coin = coin
			rec.Zone.Coin = coin
			if err := repo.SaveOutcome(ctx, &rec); err != nil {
				return errors.Wrapf(err, "save synthetic outcome %d", i)
			}
		}
		return nil
	}
}
