package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/aiwaverider/mediasync_server/internal"
	"github.com/aiwaverider/mediasync_server/internal/artifact"
	"github.com/aiwaverider/mediasync_server/internal/backend"
	"github.com/aiwaverider/mediasync_server/internal/coordinator"
	"github.com/aiwaverider/mediasync_server/internal/health"
	"github.com/aiwaverider/mediasync_server/internal/resolver"
	"github.com/aiwaverider/mediasync_server/internal/status"
	"github.com/aiwaverider/mediasync_server/internal/tracksync"
)

const (
	version          = "1.0.0"
	primaryBackend   = "primary-drive"
	secondaryBackend = "secondary-drive"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}

	db, err := internal.NewDB(config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
		return
	}
	defer db.Close()

	artifactRepository := artifact.NewSQLiteRepository(db)
	artifactService := artifact.NewService(artifactRepository)
	artifactEndpoints := artifact.NewArtifactEndpoints(artifactService)

	primary, err := backend.NewDrive(ctx, backend.DriveConfig{
		Name:            primaryBackend,
		CredentialsFile: config.Primary.CredentialsFile,
		TokenFile:       config.Primary.TokenFile,
		VideoFolder:     config.Primary.VideoFolder,
		ThumbnailFolder: config.Primary.ThumbnailFolder,
		ChunkSize:       config.Primary.ChunkSize,
		ChunkThreshold:  config.Primary.ChunkThreshold,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing primary drive backend")
		return
	}

	secondary, err := backend.NewS3(backend.S3Config{
		Name:           secondaryBackend,
		Endpoint:       config.Secondary.Endpoint,
		Bucket:         config.Secondary.Bucket,
		AccessKey:      config.Secondary.AccessKey,
		SecretKey:      config.Secondary.SecretKey,
		Region:         config.Secondary.Region,
		UseSSL:         config.Secondary.UseSSL,
		Prefix:         config.Secondary.Prefix,
		ChunkSize:      config.Secondary.ChunkSize,
		ChunkThreshold: config.Secondary.ChunkThreshold,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing secondary drive backend")
		return
	}

	duplicateResolver := resolver.NewResolver(artifactService)
	uploadCoordinator := coordinator.NewCoordinator(
		coordinator.Config{
			MaxAttempts:    config.Coordinator.MaxAttempts,
			InitialBackoff: config.Coordinator.InitialBackoff,
			MaxBackoff:     config.Coordinator.MaxBackoff,
		},
		artifactService, artifactRepository, duplicateResolver,
		[]coordinator.Slot{
			{Backend: primary, Concurrency: config.Primary.Concurrency},
			{Backend: secondary, Concurrency: config.Secondary.Concurrency},
		},
	)
	coordinatorEndpoints := coordinator.NewCoordinatorEndpoints(ctx, uploadCoordinator)

	sheetSink, err := tracksync.NewSheetSink(ctx, tracksync.SheetConfig{
		CredentialsFile: config.Sheet.CredentialsFile,
		TokenFile:       config.Sheet.TokenFile,
		SpreadsheetID:   config.Sheet.SpreadsheetID,
		SheetName:       config.Sheet.SheetName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing tracking sheet")
		return
	}
	sheetBreaker := tracksync.NewCircuitBreaker(tracksync.DefaultCircuitBreakerConfig())
	syncer := tracksync.NewSyncer(tracksync.SyncerConfig{
		PrimaryBackend:   primaryBackend,
		SecondaryBackend: secondaryBackend,
		BatchSize:        config.Sheet.BatchSize,
		BatchPause:       config.Sheet.BatchPause,
	}, artifactRepository, sheetSink, sheetBreaker)
	syncEndpoints := tracksync.NewSyncEndpoints(ctx, syncer)

	healthEndpoints := health.NewEndpoints(version, db)
	statusEndpoints := status.NewEndpoints(version, artifactRepository, sheetBreaker)

	requestHandler := internal.NewRequestHandler(config, artifactEndpoints, coordinatorEndpoints, syncEndpoints, healthEndpoints, statusEndpoints)

	server := &fasthttp.Server{Handler: requestHandler}
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server")
		if err := server.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	log.Info().Str("addr", config.ListenAddr).Msg("Starting server")
	if err := server.ListenAndServe(config.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("Error starting server")
	}
}
