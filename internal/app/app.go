// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plotloom/plotloom/internal/config"
	"github.com/plotloom/plotloom/internal/di"

	// Provider packages register themselves with the llm registry.
	_ "github.com/plotloom/plotloom/internal/llm/providers/anthropic"
	_ "github.com/plotloom/plotloom/internal/llm/providers/openai"
	"github.com/plotloom/plotloom/internal/services"
	"github.com/plotloom/plotloom/internal/storage"
	"github.com/plotloom/plotloom/internal/utils"
)

// InitServices registers all services in the DI container in
// dependency order and starts the maintenance scheduler. Must run
// after config.InitConfig.
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	container.Register("storage", fileStorage)

	lockManager := services.NewLockManager()
	container.Register("locks", lockManager)

	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	statsService := services.NewStatsService(filepath.Join(cfg.DataDir, "stats"))
	container.Register("stats", statsService)

	llmService := services.NewLLMService(statsService)
	container.Register("llm", llmService)

	configService := services.NewConfigService()
	configService.OnLLMConfigChange(func(provider string, providerConfig map[string]string) {
		if err := llmService.UpdateConfig(provider, providerConfig); err != nil {
			utils.GetLogger().Errorf("failed to apply new LLM settings: %v", err)
		}
	})
	container.Register("config", configService)

	scheduleService := services.NewScheduleService()
	container.Register("schedule", scheduleService)

	personaService := services.NewPersonaService()
	container.Register("persona", personaService)

	seasonService := services.NewSeasonService(fileStorage, lockManager)
	container.Register("season", seasonService)

	breakdownParser := services.NewBreakdownParser()
	container.Register("breakdown", breakdownParser)

	tokenService := services.NewTokenService(fileStorage)
	container.Register("token", tokenService)

	contentService := services.NewContentService(fileStorage, llmService, lockManager)
	container.Register("content", contentService)

	narrativeService := services.NewNarrativeService(seasonService, llmService, tokenService, breakdownParser)
	container.Register("narrative", narrativeService)

	queueService := services.NewQueueService(seasonService, contentService, personaService, tokenService, progressService)
	container.Register("queue", queueService)

	if err := startMaintenance(container); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	utils.GetLogger().Info("services initialized", map[string]interface{}{
		"count": len(container.GetNames()),
	})
	return nil
}

// startMaintenance schedules the recurring housekeeping jobs: progress
// tracker cleanup, stats flushes, storage cache expiry and plan lock
// pruning.
func startMaintenance(container *di.Container) error {
	progressService := container.MustGet("progress").(*services.ProgressService)
	statsService := container.MustGet("stats").(*services.StatsService)
	fileStorage := container.MustGet("storage").(*storage.FileStorage)
	lockManager := container.MustGet("locks").(*services.LockManager)

	c := cron.New()

	if _, err := c.AddFunc("@every 10m", func() {
		progressService.CleanupCompletedTasks(30 * time.Minute)
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("@every 1m", func() {
		if err := statsService.Flush(); err != nil {
			utils.GetLogger().Errorf("stats flush failed: %v", err)
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("@every 5m", func() {
		fileStorage.CleanupExpiredCache()
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("@every 30m", func() {
		lockManager.CleanupUnusedLocks()
	}); err != nil {
		return err
	}

	c.Start()
	container.Register("cron", c)
	return nil
}

// Shutdown stops background jobs and flushes pending state.
func Shutdown() {
	container := di.GetContainer()

	if c, ok := container.Get("cron").(*cron.Cron); ok {
		ctx := c.Stop()
		<-ctx.Done()
	}

	if statsService, ok := container.Get("stats").(*services.StatsService); ok {
		if err := statsService.Flush(); err != nil {
			utils.GetLogger().Errorf("final stats flush failed: %v", err)
		}
	}
}
