package main

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/api"
	"github.com/hypercosmac/bubblecap/capture"
	"github.com/hypercosmac/bubblecap/clip"
	"github.com/hypercosmac/bubblecap/cloud"
	"github.com/hypercosmac/bubblecap/config"
	"github.com/hypercosmac/bubblecap/env"
	"github.com/hypercosmac/bubblecap/executor"
	"github.com/hypercosmac/bubblecap/logger"
	"github.com/hypercosmac/bubblecap/pkg"
	"github.com/hypercosmac/bubblecap/session"
	"github.com/hypercosmac/bubblecap/sink"
	"github.com/hypercosmac/bubblecap/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Running without a .env file is fine, defaults apply.
	_, envErr := env.LoadEnvironmentVariables()

	log := logger.New(logger.LoggerOpts{
		Level:       env.GetLogLevel(),
		Development: env.IsDevelopment(),
	})
	defer log.Sync()

	if envErr != nil {
		log.Debug("no .env file loaded", zap.Error(envErr))
	}

	recordingsDir := env.GetRecordingsDir()
	if recordingsDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatal("failed to get working directory", zap.Error(err))
		}
		recordingsDir = filepath.Join(cwd, config.RECORDING_DIR)
	}

	if err := pkg.CreateDirectory(recordingsDir); err != nil {
		log.Fatal("failed to create recordings directory", zap.Error(err))
	}

	// Recordings metadata store, plus a watcher that prunes records whose
	// files get deleted out-of-band.
	recordingStore, err := store.NewStore(filepath.Join(recordingsDir, "recordings.db"), log)
	if err != nil {
		log.Fatal("failed to open recordings store", zap.Error(err))
	}

	storeWatcher := store.NewWatcher(ctx, recordingsDir, recordingStore, log)
	if err := storeWatcher.Start(); err != nil {
		log.Warn("recordings watcher unavailable", zap.Error(err))
	}
	defer storeWatcher.Close()

	// Background worker pool for uploads and clip exports.
	workerExecutor := executor.NewWorkerExecutor(ctx, &executor.WorkerExecutorOptions{
		MaxRetries:   3,
		WorkerCount:  2,
		RetryBackoff: 5 * time.Second,
		Logger:       log,
	})
	workerExecutor.Start()

	sourceFactory := capture.Factory(capture.FactoryOptions{
		AudioDevice:  env.GetAudioDevice(),
		WebcamDevice: env.GetWebcamDevice(),
		Capture:      config.DEFAULT_CAPTURE_OPTS,
		Logger:       log,
	})

	coordinator := session.NewCoordinator(ctx, session.NewCoordinatorOptions{
		RecordingsDir: recordingsDir,
		Logger:        log,
		NewSources:    sourceFactory,
		NewWriter: func(ctx context.Context, cfg session.WriterConfig) (session.Writer, error) {
			return sink.NewWriter(ctx, sink.NewWriterOptions{
				Path:    cfg.Path,
				Audio:   cfg.Audio,
				Quality: cfg.Quality,
				Capture: config.DEFAULT_CAPTURE_OPTS,
				Logger:  log,
			})
		},
		Thumbnail: clip.Thumbnail,
	})

	var cloudClient cloud.CloudClient
	if env.GetBucketName() != "" {
		cloudClient, err = cloud.NewAwsClient(ctx, &cloud.AwsClientOptions{Logger: log})
		if err != nil {
			log.Warn("cloud uploads disabled", zap.Error(err))
			cloudClient = nil
		}
	}

	apiServer := api.NewApiServer(ctx, api.ApiServerOptions{
		Port:          env.GetPort(),
		RecordingsDir: recordingsDir,
		Coordinator:   coordinator,
		Store:         recordingStore,
		Executor:      workerExecutor,
		Cloud:         cloudClient,
		Logger:        log,
	})

	<-apiServer.Start()

	sig := pkg.HandleSignal()

	for val := range sig {
		if val == syscall.SIGINT || val == syscall.SIGTERM {
			log.Info("shutting down")

			// A session still running at shutdown is stopped and persisted
			// like any other.
			if rec, err := coordinator.Stop(); err != nil {
				log.Error("stopping active recording", zap.Error(err))
			} else if rec != nil {
				if err := recordingStore.Add(store.FromSession(rec)); err != nil {
					log.Error("persisting final recording", zap.Error(err))
				}
			}

			cancel()
			apiServer.Close()
			workerExecutor.Stop()
			workerExecutor.Wait()

			return
		}
	}
}
