package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mdraft/internal/ai"
	"github.com/xxxsen/mdraft/internal/bus"
	"github.com/xxxsen/mdraft/internal/config"
	"github.com/xxxsen/mdraft/internal/db"
	"github.com/xxxsen/mdraft/internal/handler"
	"github.com/xxxsen/mdraft/internal/job"
	"github.com/xxxsen/mdraft/internal/middleware"
	"github.com/xxxsen/mdraft/internal/repo"
	"github.com/xxxsen/mdraft/internal/schedule"
	"github.com/xxxsen/mdraft/internal/service"
	"github.com/xxxsen/mdraft/internal/session"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mdraft",
		Short: "mdraft backend server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run mdraft server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, conn)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
	)

	docRepo := repo.NewDocumentRepo(conn)
	versionRepo := repo.NewVersionRepo(conn)
	documentService := service.NewDocumentService(conn, docRepo, versionRepo, cfg.Editor.ForkTimeToleranceMS)

	eventBus := bus.New()
	sessionCfg := session.Config{
		ContentDebounce: time.Duration(cfg.Editor.ContentDebounceMS) * time.Millisecond,
		VersionDebounce: time.Duration(cfg.Editor.VersionDebounceMS) * time.Millisecond,
		StreamFlush:     time.Duration(cfg.Editor.StreamFlushMS) * time.Millisecond,
		StreamFlushSize: cfg.Editor.StreamFlushBytes,
	}
	sessionManager := session.NewManager(sessionCfg, documentService, eventBus)

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	aiProvider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	aiManager := ai.NewManager(ai.NewGenerator(aiProvider, cfg.AI.Model), ai.ManagerConfig{
		Timeout:       cfg.AI.Timeout,
		MaxInputChars: cfg.AI.MaxInputChars,
	})

	deps := handler.RouterDeps{
		Documents:   handler.NewDocumentHandler(documentService),
		Versions:    handler.NewVersionHandler(documentService, sessionManager),
		Sessions:    handler.NewSessionHandler(sessionManager, eventBus),
		AI:          handler.NewAIHandler(aiManager, sessionManager, eventBus),
		JWTSecret:   []byte(cfg.JWTSecret),
		AIRateLimit: time.Duration(cfg.AI.RateLimitMS) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	idle := time.Duration(cfg.Editor.SessionIdleMinutes) * time.Minute
	if err := scheduler.AddJob(job.NewSessionReaperJob(sessionManager, idle), "*/5 * * * *"); err != nil {
		return fmt.Errorf("schedule session reaper: %w", err)
	}
	scheduler.Start(ctx)

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	scheduler.Stop()
	sessionManager.CloseAll(context.Background())
	return nil
}
