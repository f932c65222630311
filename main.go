package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkrec/config"
	"linkrec/models"
	"linkrec/providers"
	"linkrec/providers/service"
	"linkrec/searchindex"
	"linkrec/services"
	"linkrec/storage"
	"linkrec/wiki"
)

const requestIDHeader = "X-Request-ID"

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(c *gin.Context, log *zap.Logger) *zap.Logger {
	return log.With(zap.String("request_id", c.GetString("request_id")))
}

// cronLogger leitet Meldungen des Schedulers an zap weiter.
type cronLogger struct {
	log *zap.SugaredLogger
}

func newCronLogger(log *zap.Logger) cronLogger {
	return cronLogger{log: log.Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	taskType, err := config.LoadTaskType(cfg.TaskTypeConfigPath)
	if err != nil {
		logging.Fatal("Task type config error", zap.String("path", cfg.TaskTypeConfigPath), zap.Error(err))
	}

	// Setup Database Connections
	primaryDB, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to primary database", zap.Error(err))
	}
	replicaDB := primaryDB
	if cfg.DBReplicaHost != "" {
		replicaDB, err = gorm.Open(postgres.Open(cfg.ReplicaDSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			logging.Fatal("Failed to connect to replica database", zap.Error(err))
		}
	}
	logging.Info("Successfully connected to database.", zap.Bool("replica", cfg.DBReplicaHost != ""))

	wikiClient := wiki.NewClient(cfg.WikiAPIURL, cfg.WikiUserAgent, logging)
	store := storage.NewStore(primaryDB, replicaDB, wikiClient, logging)
	store.SetReadOnly(cfg.DBReadOnly)

	// Auto-Migration
	if !cfg.DBReadOnly {
		logging.Info("Running database auto-migration...")
		if err := store.AutoMigrate(); err != nil {
			logging.Fatal("Auto-migration failed", zap.Error(err))
		}
	}

	// Setup Providers
	fetcher := service.NewFetcher(cfg, taskType, wikiClient, logging)
	var readInner providers.Provider = providers.NewStaticProvider()
	if cfg.ServeLiveRecommendations {
		readInner = fetcher
	}
	reader := providers.NewPruningProvider(
		providers.NewCachingProvider(store, readInner, false, logging),
		store, wikiClient, taskType, logging,
	)

	// Setup Services
	sink := searchindex.NewHTTPSink(cfg.SearchIndexURL, logging)
	deferred := services.NewDeferredQueue(cfg.DeferredWorkers, cfg.DeferredBuffer, cfg.DeferredTimeout, logging)
	evaluator := services.NewEvaluator(wikiClient, fetcher, store, sink, taskType, logging)
	submissions := services.NewSubmissionHandler(store, wikiClient, sink, deferred, cfg.SearchIndexJoinWindow, logging)
	refresh := services.NewRefreshJob(wikiClient, wikiClient, store, evaluator, cfg.RefreshBatchSize, cfg.RefreshRatePerSec, logging)
	maintenance := services.NewMaintenanceJob(store, wikiClient, sink, cfg.MaintenanceBatch, cfg.SearchIndexJoinWindow, logging)

	router := newRouter(reader, evaluator, submissions, refresh, maintenance, taskType, logging)

	// Setup Cron
	cl := newCronLogger(logging)
	cronScheduler := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	if _, err := cronScheduler.AddFunc(cfg.RefreshSchedule, func() {
		logging.Info("Running scheduled refresh job...")
		if _, err := refresh.Run(context.Background()); err != nil {
			logging.Error("Refresh job failed", zap.Error(err))
		}
	}); err != nil {
		logging.Fatal("Invalid refresh schedule", zap.String("schedule", cfg.RefreshSchedule), zap.Error(err))
	}
	if _, err := cronScheduler.AddFunc(cfg.MaintenanceSchedule, func() {
		logging.Info("Running scheduled maintenance job...")
		if _, err := maintenance.Run(context.Background()); err != nil {
			logging.Error("Maintenance job failed", zap.Error(err))
		}
	}); err != nil {
		logging.Fatal("Invalid maintenance schedule", zap.String("schedule", cfg.MaintenanceSchedule), zap.Error(err))
	}
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()
	<-ctx.Done()

	logging.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
	<-cronScheduler.Stop().Done()
	deferred.Close()
	logging.Info("Shutdown complete.")
}

func newRouter(reader *providers.PruningProvider, evaluator *services.Evaluator, submissions *services.SubmissionHandler,
	refresh *services.RefreshJob, maintenance *services.MaintenanceJob, taskType *config.LinkTaskType, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), requestIDMiddleware())
	// Titel dürfen "/" enthalten und kommen dann kodiert an.
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupRecommendationRoutes(router, reader, submissions, taskType, log)
	setupPageRoutes(router, evaluator, maintenance, log)
	setupJobRoutes(router, refresh, log)
	return router
}

type recommendationResponse struct {
	Title      string          `json:"title"`
	PageID     int64           `json:"page_id"`
	RevisionID int64           `json:"revision_id"`
	Links      []models.Link   `json:"links"`
	Meta       models.Metadata `json:"meta"`
	Pruned     prunedCounts    `json:"pruned"`
}

type prunedCounts struct {
	Red      int `json:"red"`
	Excluded int `json:"excluded"`
}

type submitRequest struct {
	UserID    int64    `json:"user_id" binding:"required"`
	BaseRevID int64    `json:"base_rev_id" binding:"required"`
	EditRevID *int64   `json:"edit_rev_id"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
	Skipped   []string `json:"skipped"`
}

func setupRecommendationRoutes(router *gin.Engine, reader *providers.PruningProvider, submissions *services.SubmissionHandler, taskType *config.LinkTaskType, log *zap.Logger) {
	rg := router.Group("/recommendations")

	rg.GET("/:title", func(c *gin.Context) {
		title := c.Param("title")
		res, err := reader.GetDetailed(c.Request.Context(), title)
		pruned := prunedCounts{Red: res.RedLinksPruned, Excluded: res.ExcludedLinksPruned}
		if err != nil {
			if providers.IsWarning(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "pruned": pruned})
				return
			}
			requestLogger(c, log).Warn("Failed to load recommendation", zap.String("title", title), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "recommendation unavailable"})
			return
		}

		rec := res.Recommendation
		links := rec.Links
		if len(links) > taskType.MaximumLinksToShowPerTask {
			links = links[:taskType.MaximumLinksToShowPerTask]
		}
		c.JSON(http.StatusOK, recommendationResponse{
			Title:      rec.Title,
			PageID:     rec.PageID,
			RevisionID: rec.RevisionID,
			Links:      links,
			Meta:       rec.Metadata,
			Pruned:     pruned,
		})
	})

	rg.POST("/:title/submit", func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		logID, err := submissions.Run(c.Request.Context(), services.Submission{
			Title:          c.Param("title"),
			UserID:         req.UserID,
			BaseRevisionID: req.BaseRevID,
			EditRevisionID: req.EditRevID,
			Decisions: storage.Decisions{
				Accepted: req.Accepted,
				Rejected: req.Rejected,
				Skipped:  req.Skipped,
			},
		})
		if errors.Is(err, services.ErrForeignTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			requestLogger(c, log).Error("Failed to record submission", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record submission"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"log_id": logID})
	})
}

func setupPageRoutes(router *gin.Engine, evaluator *services.Evaluator, maintenance *services.MaintenanceJob, log *zap.Logger) {
	rg := router.Group("/pages")

	rg.POST("/:title/evaluate", func(c *gin.Context) {
		force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
		rec, err := evaluator.ProcessCandidate(c.Request.Context(), c.Param("title"), force)

		var (
			rejection *services.Rejection
			failure   *providers.Failure
		)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, rec)
		case errors.As(err, &rejection):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": rejection.Reason})
		case errors.As(err, &failure):
			c.JSON(http.StatusBadGateway, gin.H{"error": failure.Error(), "severity": failure.Severity.String()})
		default:
			requestLogger(c, log).Error("Evaluation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		}
	})

	rg.POST("/deleted", func(c *gin.Context) {
		var req struct {
			PageIDs []int64 `json:"page_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		pages := make([]searchindex.Page, 0, len(req.PageIDs))
		for _, id := range req.PageIDs {
			pages = append(pages, searchindex.Page{ID: id})
		}
		n, err := maintenance.RemovePages(c.Request.Context(), pages)
		if err != nil {
			requestLogger(c, log).Error("Failed to remove recommendations of deleted pages", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	})
}

func setupJobRoutes(router *gin.Engine, refresh *services.RefreshJob, log *zap.Logger) {
	router.POST("/refresh", func(c *gin.Context) {
		l := requestLogger(c, log)
		go func() {
			if _, err := refresh.Run(context.Background()); err != nil {
				l.Error("Triggered refresh failed", zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Refresh triggered."})
	})
}
