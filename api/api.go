package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/hypercosmac/bubblecap/capture"
	"github.com/hypercosmac/bubblecap/clip"
	"github.com/hypercosmac/bubblecap/cloud"
	"github.com/hypercosmac/bubblecap/executor"
	"github.com/hypercosmac/bubblecap/session"
	"github.com/hypercosmac/bubblecap/store"
	"github.com/hypercosmac/bubblecap/uploader"
)

// ApiServerOptions defines the configuration options for the ApiServer.
type ApiServerOptions struct {
	Port          int
	RecordingsDir string

	Coordinator *session.Coordinator
	Store       *store.Store
	Executor    *executor.WorkerExecutor

	// Cloud enables post-stop uploads when set.
	Cloud cloud.CloudClient

	Logger *zap.Logger
}

// ApiServer is the control surface of the recorder: the lifecycle toggles a
// UI would offer, plus the recordings library.
type ApiServer struct {
	ctx  context.Context
	log  *zap.Logger
	app  *fiber.App
	opts ApiServerOptions
	done chan bool
}

// NewApiServer initializes a new API server with the specified options.
func NewApiServer(ctx context.Context, opts ApiServerOptions) *ApiServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("api")

	app := fiber.New(fiber.Config{
		ErrorHandler: newErrorHandler(log),
	})

	apiServer := &ApiServer{
		ctx:  ctx,
		log:  log,
		app:  app,
		opts: opts,
		done: make(chan bool, 1),
	}

	app.Get("/ping", apiServer.pingHandler)

	app.Post("/recording/start", apiServer.startRecording)
	app.Post("/recording/pause", apiServer.pauseRecording)
	app.Post("/recording/resume", apiServer.resumeRecording)
	app.Post("/recording/stop", apiServer.stopRecording)
	app.Get("/recording/status", apiServer.recordingStatus)

	app.Get("/recordings", apiServer.listRecordings)
	app.Delete("/recordings/:id", apiServer.deleteRecording)
	app.Post("/recordings/:id/export", apiServer.exportRecording)

	app.Get("/devices/audio", apiServer.listAudioDevices)

	app.Use(apiServer.notFoundHandler)

	go apiServer.watchEvents()

	return apiServer
}

// Done returns a channel that will be closed when the server is done.
func (a *ApiServer) Done() <-chan bool {
	return a.done
}

func (a *ApiServer) pingHandler(c fiber.Ctx) error {
	return c.SendString("pong")
}

func (a *ApiServer) startRecording(c fiber.Ctx) error {
	var req StartRecordingRequest

	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
		}
	}

	err := a.opts.Coordinator.Start(session.StartOptions{
		Audio:   req.Audio,
		Webcam:  req.Webcam,
		Quality: req.Quality,
	})

	switch {
	case err == nil:
	case errors.Is(err, session.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrNoCaptureTarget):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(StartRecordingResponse{
		Status: a.opts.Coordinator.Status().State.String(),
	})
}

func (a *ApiServer) pauseRecording(c fiber.Ctx) error {
	a.opts.Coordinator.Pause()
	return a.recordingStatus(c)
}

func (a *ApiServer) resumeRecording(c fiber.Ctx) error {
	a.opts.Coordinator.Resume()
	return a.recordingStatus(c)
}

func (a *ApiServer) stopRecording(c fiber.Ctx) error {
	rec, err := a.opts.Coordinator.Stop()

	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	if rec == nil {
		return c.JSON(StopRecordingResponse{Status: "no active recording"})
	}

	stored := store.FromSession(rec)

	if err := a.opts.Store.Add(stored); err != nil {
		a.log.Error("persisting recording", zap.String("id", rec.ID), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to persist recording")
	}

	a.enqueueUpload(stored)

	return c.JSON(StopRecordingResponse{
		Status:    "recording stopped",
		Recording: stored,
	})
}

func (a *ApiServer) recordingStatus(c fiber.Ctx) error {
	s := a.opts.Coordinator.Status()

	return c.JSON(RecordingStatusResponse{
		State:        s.State.String(),
		ElapsedMs:    s.Elapsed.Milliseconds(),
		DroppedVideo: s.DroppedVideo,
		DroppedAudio: s.DroppedAudio,
		LastError:    s.LastError,
	})
}

func (a *ApiServer) listRecordings(c fiber.Ctx) error {
	recs, err := a.opts.Store.List()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to list recordings")
	}

	return c.JSON(ListRecordingsResponse{Recordings: recs})
}

func (a *ApiServer) deleteRecording(c fiber.Ctx) error {
	id := c.Params("id")

	rec, err := a.opts.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Recording not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load recording")
	}

	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to delete recording file")
	}

	if err := a.opts.Store.Remove(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to delete recording")
	}

	return c.JSON(fiber.Map{"status": "deleted"})
}

func (a *ApiServer) exportRecording(c fiber.Ctx) error {
	id := c.Params("id")

	var req ExportRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
	}

	rec, err := a.opts.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Recording not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load recording")
	}

	base := strings.TrimSuffix(rec.Filename, ".mp4")
	destName := fmt.Sprintf("%s_clip_%d.mp4", base, time.Now().Unix())
	dest := filepath.Join(a.opts.RecordingsDir, destName)

	opts := clip.ExportOptions{
		Source: rec.Path,
		Dest:   dest,
		Start:  time.Duration(req.StartMs) * time.Millisecond,
		End:    time.Duration(req.EndMs) * time.Millisecond,
		Speed:  req.Speed,
	}

	a.opts.Executor.Enqueue(executor.Job{
		Id:  "export_" + destName,
		Ctx: context.WithoutCancel(a.ctx),
		JobFunc: func() error {
			return clip.Export(context.WithoutCancel(a.ctx), opts)
		},
	})

	return c.Status(fiber.StatusAccepted).JSON(ExportResponse{
		Status:   "export queued",
		Filename: destName,
	})
}

func (a *ApiServer) listAudioDevices(c fiber.Ctx) error {
	devices, err := capture.ListAudioDevices(a.ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{"devices": devices})
}

// enqueueUpload ships a finished recording to the bucket in the background;
// the session lifecycle never waits on it.
func (a *ApiServer) enqueueUpload(rec *store.Recording) {
	if a.opts.Cloud == nil {
		return
	}

	a.opts.Executor.Enqueue(executor.Job{
		Id:  "upload_" + rec.ID,
		Ctx: context.WithoutCancel(a.ctx),
		JobFunc: func() error {
			up, err := uploader.NewUploader(a.ctx, uploader.NewUploaderOptions{
				FilePath:    rec.Path,
				StoragePath: rec.Filename,
				Client:      a.opts.Cloud,
				Logger:      a.opts.Logger,
			})
			if err != nil {
				return err
			}

			url, err := up.Run()
			if err != nil {
				return err
			}

			return a.opts.Store.SetUploadURL(rec.ID, url)
		},
	})
}

// watchEvents drains the coordinator's out-of-band notifications; this is
// where a capture failure surfaces when no HTTP caller is waiting.
func (a *ApiServer) watchEvents() {
	events := a.opts.Coordinator.Events()

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case session.EventCaptureFailed:
				a.log.Error("recording aborted by capture failure", zap.Error(ev.Err))
			case session.EventFinalizeFailed:
				a.log.Error("recording could not be finalized", zap.Error(ev.Err))
			case session.EventFinished:
				a.log.Info("recording finished", zap.String("id", ev.Recording.ID))
			}
		}
	}
}

// newErrorHandler handles all internal server errors.
func newErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal Server Error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			msg = e.Message
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		log.Warn("request failed", zap.Int("code", code), zap.String("message", msg))
		return c.Status(code).SendString(msg)
	}
}

// notFoundHandler handles unmatched routes.
func (a *ApiServer) notFoundHandler(c fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound, "Resource not found")
}

// Start begins listening on the configured port.
func (a *ApiServer) Start() <-chan struct{} {
	addr := fmt.Sprintf(":%d", a.opts.Port)
	startedChan := make(chan struct{})

	go func() {
		err := a.app.Listen(addr, fiber.ListenConfig{
			ListenerNetwork:       "tcp",
			DisableStartupMessage: true,
			GracefulContext:       a.ctx,
			OnShutdownError: func(err error) {
				a.log.Error("error shutting down the server", zap.Error(err))
				close(a.done)
			},
			OnShutdownSuccess: func() {
				a.log.Info("server shutdown successfully")
				close(a.done)
			},
			ListenerAddrFunc: func(addr net.Addr) {
				a.log.Info("apiServer listening", zap.String("addr", addr.String()))
				close(startedChan)
			},
		})

		if err != nil {
			a.log.Error("error starting the server", zap.Error(err))
			close(startedChan)
		}
	}()

	return startedChan
}

// Close gracefully shuts down the server.
func (a *ApiServer) Close() error {
	a.log.Info("closing the API server")

	return a.app.Shutdown()
}
