// Package main provides the relay API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/relayflow/relay/pkg/persistence"
	"github.com/relayflow/relay/pkg/web"
	"github.com/relayflow/relay/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	handlers    *web.APIHandlers
}

func NewAPI(logger *slog.Logger, store persistence.Persistence) (*API, error) {
	loader, err := workflow.NewLoader()
	if err != nil {
		return nil, err
	}

	repository := workflow.NewRepository(store, loader)
	publishing := workflow.NewPublishingService(store, loader, repository)

	return &API{
		logger:      logger,
		persistence: store,
		handlers:    web.NewAPIHandlers(store, loader, publishing),
	}, nil
}

func (a *API) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "relay-api",
	})

	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	a.handlers.Register(app)

	return app
}

// Start serves the API until the context is done.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	a.logger.InfoContext(ctx, "API server listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	}
}
