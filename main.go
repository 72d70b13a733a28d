package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/n0rdy/tableq/api"
	"github.com/n0rdy/tableq/configs"
	"github.com/n0rdy/tableq/db"
	"github.com/n0rdy/tableq/jobs/cleanup"
	"github.com/n0rdy/tableq/jobs/maintenance"
	jobsmetrics "github.com/n0rdy/tableq/jobs/metrics"
	"github.com/n0rdy/tableq/metrics"
	"github.com/n0rdy/tableq/services"
	"github.com/n0rdy/tableq/tracing"
	"github.com/n0rdy/tableq/utils"

	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	appConfigs, err := configs.LoadAppConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
		panic(err)
	}
	configs.SetupLogging(appConfigs.LogLevel, appConfigs.PrettyLogs)

	authSecret := getAuthSecret(appConfigs.AuthSecret)
	if authSecret == "" {
		log.Fatal().Msg("auth secret is not provided: either set TABLEQ_AUTH_SECRET environment variable or pass it as a command line argument --auth-secret")
		panic("auth secret is not provided: either set TABLEQ_AUTH_SECRET environment variable or pass it as a command line argument --auth-secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, appConfigs.Tracing, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
		panic(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	storageConfig := appConfigs.Storage
	if configs.Dialect(storageConfig.Driver) == configs.SQLiteDialect && storageConfig.DSN == "" {
		storageConfig.DSN, err = utils.GetOrCreateDefaultDBPath()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get or create default database path")
			panic(err)
		}
	}

	schema, err := appConfigs.SchemaConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid schema configuration")
		panic(err)
	}

	if schema.Table() == configs.DefaultTable {
		if err := db.RunMigrations(schema.Dialect(), storageConfig.DSN); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
			panic(err)
		}
	} else {
		log.Info().Str("table", schema.Table()).Msg("custom table, migrations skipped")
	}

	repo, err := db.NewRepo(ctx, storageConfig, schema)
	if err != nil {
		log.Fatal().Err(err).Str("driver", storageConfig.Driver).Msg("failed to create repository")
		panic(err)
	}
	defer repo.Close()

	metricsService := metrics.NewMetricsService(appConfigs.MetricsEnabled)

	messagesService := services.NewMessagesService(repo, metricsService, appConfigs)
	monitoringService := services.NewMonitoringService(repo)
	statsService := services.NewStatsService(repo)

	messagesCleanupJob := cleanup.NewMessagesCleanupJob(repo, metricsService, appConfigs.JobsIntervals.MessagesCleanup, appConfigs.Retention, appConfigs.CleanBitmask)
	defer messagesCleanupJob.Close()
	pendingMessagesJob := cleanup.NewPendingMessagesJob(repo, metricsService, appConfigs.JobsIntervals.PendingMessages, appConfigs.PendingTimeout, appConfigs.PendingPolicy)
	defer pendingMessagesJob.Close()
	dbOptimizationJob := maintenance.NewDbOptimizationJob(repo, appConfigs.JobsIntervals.DbOptimization, appConfigs.JobsIntervals.DbOptimization/2)
	defer dbOptimizationJob.Close()
	if appConfigs.MetricsEnabled {
		queueDepthMetricsJob := jobsmetrics.NewQueueDepthMetricsJob(metricsService, repo, appConfigs.JobsIntervals.QueueDepthMetrics)
		defer queueDepthMetricsJob.Close()
	}

	tableqRouter := api.NewRouter(messagesService, monitoringService, statsService, authSecret, appConfigs.MetricsEnabled)
	handler := tracing.WrapHandler(appConfigs.Tracing.Enabled, "tableq", tableqRouter.NewRouter())

	// enforcing HTTP2 only
	var protocols http.Protocols
	protocols.SetUnencryptedHTTP2(true)
	protocols.SetHTTP1(false)

	tableqServer := &http.Server{
		Addr:              appConfigs.ApiAddr,
		Handler:           http.TimeoutHandler(handler, appConfigs.ServerConfig.Timeouts.Handle, "timeout"),
		WriteTimeout:      appConfigs.ServerConfig.Timeouts.Write,
		ReadTimeout:       appConfigs.ServerConfig.Timeouts.Read,
		ReadHeaderTimeout: appConfigs.ServerConfig.Timeouts.ReadHeader,
		IdleTimeout:       appConfigs.ServerConfig.Timeouts.Idle,
		Protocols:         &protocols,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", appConfigs.ApiAddr).Str("driver", storageConfig.Driver).Str("table", schema.Table()).Msg("server started")
		serverErrCh <- tableqServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("server failed")
		}
		return
	case <-ctx.Done():
		log.Info().Msg("server shutdown requested")
	}

	// long-polling requests may need the whole polling duration to return
	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfigs.ServerConfig.Timeouts.Handle)
	defer cancel()
	if err := tableqServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed, closing server")
		if err := tableqServer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close server")
			return
		}
	}
	log.Info().Msg("server shutdown")
}

func getAuthSecret(fromEnv string) string {
	if fromEnv != "" {
		return fromEnv
	}

	var flagAuthSecret string
	flag.StringVar(&flagAuthSecret, "auth-secret", "", "Authentication secret")
	flag.Parse()

	return flagAuthSecret
}
