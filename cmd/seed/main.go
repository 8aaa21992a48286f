// Command seed creates a few demonstration planning workflows and follows
// them to completion. With a database host configured the runs are persisted;
// otherwise it exercises the in-memory engine.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"seasonplan/backend/internal/config"
	"seasonplan/backend/internal/events"
	"seasonplan/backend/internal/logging"
	"seasonplan/backend/internal/orchestrator"
	"seasonplan/backend/internal/pipeline"
	"seasonplan/backend/internal/repository"
	"seasonplan/backend/pkg/models"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLogger(cfg.Server.LogLevel)

	var store repository.WorkflowStore
	if cfg.DB.Host != "" {
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
		)
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer pool.Close()

		pgStore := repository.NewPostgresWorkflowStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
		store = pgStore
	} else {
		store = repository.NewMemoryWorkflowStore()
	}

	hub := events.NewHub()
	orch := orchestrator.New(store, hub, pipeline.Default(), orchestrator.WithLogger(logger))

	seasons := []struct {
		Name   string
		Params models.SeasonParameters
	}{
		{
			Name: "Spring basics, weekly replenishment",
			Params: models.SeasonParameters{
				TotalUnits:    8000,
				HorizonWeeks:  12,
				Replenishment: models.ReplenishmentWeekly,
				DCHoldback:    0.15,
			},
		},
		{
			Name: "Holiday capsule with markdown checkpoint",
			Params: models.SeasonParameters{
				TotalUnits:             5000,
				HorizonWeeks:           8,
				Replenishment:          models.ReplenishmentNone,
				DCHoldback:             0.10,
				MarkdownCheckpointWeek: 4,
				MarkdownThreshold:      0.40,
			},
		},
	}

	for _, season := range seasons {
		workflow, err := orch.CreateWorkflow(ctx, season.Params)
		if err != nil {
			log.Printf("Failed to create workflow %q: %v", season.Name, err)
			continue
		}
		logger.Info("Seeded workflow", "name", season.Name, "id", workflow.ID)

		ch, cancel, err := hub.Subscribe(ctx, workflow.ID, 0)
		if err != nil {
			log.Printf("Failed to subscribe to %s: %v", workflow.ID, err)
			continue
		}
		for event := range ch {
			logger.Info("event",
				"workflow_id", event.WorkflowID,
				"seq", event.Sequence,
				"type", event.Type,
			)
		}
		cancel()

		status, err := orch.GetStatus(ctx, workflow.ID)
		if err != nil {
			log.Printf("Failed to get status for %s: %v", workflow.ID, err)
			continue
		}
		logger.Info("workflow finished", "id", workflow.ID, "status", status.Status,
			"agents", status.CompletedAgents)
	}
	logger.Info("Seeding complete!")
}
