package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anime-shed/emotion-detect-go/internal/config"
	"github.com/anime-shed/emotion-detect-go/internal/logger"
	"github.com/anime-shed/emotion-detect-go/internal/observer"
	"github.com/anime-shed/emotion-detect-go/internal/predictor"
	"github.com/anime-shed/emotion-detect-go/internal/preview"
	"github.com/anime-shed/emotion-detect-go/internal/session"
	"github.com/anime-shed/emotion-detect-go/internal/transport"
	"github.com/anime-shed/emotion-detect-go/internal/upload"
)

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	predictor *predictor.Client
	previews  *preview.Previewer
	publisher *observer.EventPublisher
	metrics   *observer.MetricsObserver
	sessions  *session.Registry
	handler   http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	store, err := newPreviewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Build dependency graph
	client := predictor.NewClient(cfg.PredictEndpoint, cfg.PredictTimeout)
	previews := preview.NewPreviewer(store, cfg.PreviewSize, transport.PreviewPath)

	metrics := observer.NewMetricsObserver()
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	sessions := session.NewRegistry(func() *upload.Controller {
		return upload.NewController(client, previews, upload.WithPublisher(publisher))
	}, cfg.SessionIdleTimeout)

	handler := transport.NewHandler(sessions, previews, metrics, cfg)

	return &Container{
		config:    cfg,
		predictor: client,
		previews:  previews,
		publisher: publisher,
		metrics:   metrics,
		sessions:  sessions,
		handler:   handler,
	}, nil
}

func newPreviewStore(ctx context.Context, cfg *config.Config) (preview.Store, error) {
	switch cfg.PreviewBackend {
	case config.PreviewBackendAzure:
		store, err := preview.NewAzureStore(ctx, cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure preview store: %w", err)
		}
		return store, nil
	default:
		return preview.NewMemoryStore(), nil
	}
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Sessions returns the session registry
func (c *Container) Sessions() *session.Registry {
	return c.sessions
}
