// Package server assembles the application: registries, dispatcher, HTTP
// handlers, background workers. main stays thin; everything that can fail
// at startup fails here.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/audit"
	"github.com/Plabrum/arive/internal/auth"
	"github.com/Plabrum/arive/internal/brands"
	"github.com/Plabrum/arive/internal/campaigns"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/dashboards"
	"github.com/Plabrum/arive/internal/deliverables"
	"github.com/Plabrum/arive/internal/documents"
	"github.com/Plabrum/arive/internal/extract"
	"github.com/Plabrum/arive/internal/invoices"
	"github.com/Plabrum/arive/internal/mail"
	"github.com/Plabrum/arive/internal/media"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/roster"
	"github.com/Plabrum/arive/internal/sqid"
	"github.com/Plabrum/arive/internal/storage"
	"github.com/Plabrum/arive/internal/store"
	"github.com/Plabrum/arive/internal/tasks"
	"github.com/Plabrum/arive/internal/teams"
	"github.com/Plabrum/arive/internal/threads"
	"github.com/Plabrum/arive/internal/views"
)

// Server owns every long-lived component. Close releases them in reverse
// order of construction.
type Server struct {
	App   *fiber.App
	Store *store.Store
	Queue *tasks.Queue

	redis  *redis.Client
	events *audit.EventBuffer
	cfg    *config.Config
}

func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	rdb, err := auth.NewRedis(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	codec, err := sqid.New()
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("init sqid codec: %w", err)
	}

	objReg := objects.NewRegistry()
	engine := objects.NewEngine(db.Dialect)
	actReg := actions.NewRegistry()
	recorder := audit.NewRecorder(db)
	mailer := mail.New(cfg.Mail)
	queue := tasks.NewQueue(db)
	events := audit.NewEventBuffer(db, 64, 10*time.Second)

	deps := &actions.Deps{
		Store:   db,
		Objects: objReg,
		Engine:  engine,
		Audit:   recorder,
		Mailer:  mailer,
		Storage: blobs,
		Extract: extract.NewClient(cfg.Extract),
		Tasks:   queue,
		Sqids:   codec,
		Config:  cfg,
	}

	if err := registerDomains(objReg, actReg, queue, deps); err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("register domains: %w", err)
	}

	sessions := auth.NewSessionStore(rdb, time.Duration(cfg.Auth.SessionTTLHours)*time.Hour)
	authSvc := auth.NewService(db, sessions, mailer, cfg.Auth, cfg.Server.BaseURL)
	teamSvc := teams.NewService(db, mailer, cfg.Auth.MagicLinkSecret, cfg.Server.BaseURL)
	threadSvc := threads.NewService(db, objReg, engine)
	dispatcher := actions.NewDispatcher(actReg, deps)

	app := fiber.New(fiber.Config{
		AppName:      "arive",
		ErrorHandler: errorHandler,
	})
	app.Use(fiberrecover.New(fiberrecover.Config{EnableStackTrace: true}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument(events))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authed := auth.Middleware(sessions, cfg.Auth.CookieName)

	auth.RegisterRoutes(app, auth.NewHandler(authSvc, sessions, auth.NewGoogleFlow(cfg.Auth), codec, cfg.Auth), authed)
	teams.RegisterRoutes(app, teams.NewHandler(teamSvc, authSvc, codec, cfg.Auth), authed)
	threads.RegisterRoutes(app, threads.NewHandler(threadSvc, codec, cfg.Webhook.InboundEmailSecret), authed)
	objects.RegisterRoutes(app, objects.NewHandler(db, objReg, engine, codec), authed)
	actions.RegisterRoutes(app, actions.NewHandler(dispatcher, codec), authed)

	if local, ok := blobs.(*storage.LocalStorage); ok {
		registerLocalFiles(app, local, authed)
	}

	return &Server{
		App:    app,
		Store:  db,
		Queue:  queue,
		redis:  rdb,
		events: events,
		cfg:    cfg,
	}, nil
}

// registerDomains wires every object descriptor, action group and task
// handler. Referenced objects register before the objects that join them.
func registerDomains(objReg *objects.Registry, actReg *actions.Registry, queue *tasks.Queue, deps *actions.Deps) error {
	registrations := []func(*objects.Registry, *actions.Registry) error{
		brands.Register,
		campaigns.Register,
		deliverables.Register,
		roster.Register,
		invoices.Register,
		media.Register,
		documents.Register,
		views.Register,
		dashboards.Register,
	}
	for _, reg := range registrations {
		if err := reg(objReg, actReg); err != nil {
			return err
		}
	}
	if err := invoices.RegisterTasks(queue, deps); err != nil {
		return err
	}
	return documents.RegisterTasks(queue, deps)
}

// Listen starts the task queue and the HTTP listener. It blocks until the
// listener exits.
func (s *Server) Listen() error {
	s.Queue.Start()
	return s.App.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// instrument records one event per request into the buffered audit stream.
func instrument(events *audit.EventBuffer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := "success"
		if err != nil || c.Response().StatusCode() >= 400 {
			status = "error"
		}
		var userID int64
		if sess := auth.SessionFromCtx(c); sess != nil {
			userID = sess.UserID
		}
		events.Enqueue(audit.Event{
			EventType:  "http_request",
			Component:  "http",
			Action:     c.Method() + " " + c.Route().Path,
			UserID:     userID,
			DurationMs: time.Since(start).Milliseconds(),
			Status:     status,
		})
		return err
	}
}

// Shutdown drains HTTP then stops workers and closes connections.
func (s *Server) Shutdown() {
	if err := s.App.Shutdown(); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	s.Queue.Stop()
	s.events.Stop()
	if err := s.redis.Close(); err != nil {
		slog.Error("redis close", "error", err)
	}
	s.Store.Close()
}

// registerLocalFiles serves the presigned-URL stand-ins the local storage
// driver hands out. Production uses S3 and never mounts these.
func registerLocalFiles(app *fiber.App, local *storage.LocalStorage, authed fiber.Handler) {
	app.Put("/files/+", authed, func(c *fiber.Ctx) error {
		key := c.Params("+")
		if err := local.Put(c.UserContext(), key, c.Get(fiber.HeaderContentType), bytes.NewReader(c.Body())); err != nil {
			return apperror.Integration("store file: " + err.Error())
		}
		return c.JSON(fiber.Map{"success": true})
	})
	app.Get("/files/+", authed, func(c *fiber.Ctx) error {
		rc, err := local.Open(c.UserContext(), c.Params("+"))
		if err != nil {
			return apperror.NotFound("files", c.Params("+"))
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return apperror.Integration("read file: " + err.Error())
		}
		return c.Send(data)
	})
}

func errorHandler(c *fiber.Ctx, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(apperror.ErrorResponse{Error: appErr})
	}
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(apperror.ErrorResponse{
			Error: apperror.New("NOT_FOUND", fiber.StatusNotFound, "Not found"),
		})
	}

	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	slog.Error("unhandled request error", "error", err, "path", c.Path())
	return c.Status(code).JSON(apperror.ErrorResponse{
		Error: apperror.New("INTERNAL_ERROR", code, "Internal server error"),
	})
}
