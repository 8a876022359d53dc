package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/codec"
	"github.com/camelya58/kafkabridge/core"
	"github.com/camelya58/kafkabridge/core/middleware"
	"github.com/camelya58/kafkabridge/internal/config"
	"github.com/camelya58/kafkabridge/internal/httpapi"
	"github.com/camelya58/kafkabridge/internal/model"
	"github.com/camelya58/kafkabridge/metrics"
)

// App wires one broker to the user and text pipelines and serves them over HTTP.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	broker core.Broker

	users      *core.Publisher[int64, model.User]
	texts      *core.Publisher[string, string]
	dispatcher *core.Dispatcher
	router     *gin.Engine
}

// New connects to the configured transport and builds the application.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	b, err := Transports().Create(cfg.Transport, cfg.BrokerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}
	a, err := NewWithBroker(cfg, log, b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return a, nil
}

// NewWithBroker builds the application on an existing broker, which it
// closes on shutdown.
func NewWithBroker(cfg *config.Config, log *zap.Logger, b core.Broker) (*App, error) {
	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	pubOpts := []core.PublisherOption{
		core.WithPublisherLogger(log.Named("publisher")),
		core.WithSendTimeout(cfg.SendTimeout),
		core.WithSendObserver(collector),
	}
	a := &App{
		cfg:    cfg,
		log:    log,
		broker: b,
		users:  core.NewPublisher[int64, model.User](b, codec.Int64{}, codec.JSON[model.User]{}, pubOpts...),
		texts:  core.NewPublisher[string, string](b, codec.String{}, codec.String{}, pubOpts...),
		dispatcher: core.NewDispatcher(b,
			core.WithLogger(log.Named("dispatcher")),
			core.WithReconnectPolicy(cfg.ReconnectPolicy()),
		),
	}

	a.dispatcher.Use(middleware.Recovery(log))
	a.dispatcher.Use(middleware.Logging(log))
	a.dispatcher.Use(middleware.Metrics(collector))

	if err := a.setupHandlers(); err != nil {
		return nil, fmt.Errorf("failed to setup handlers: %w", err)
	}

	a.router = httpapi.NewRouter(httpapi.Deps{
		Users:     a.users,
		UserTopic: cfg.UserTopic,
		Texts:     a.texts,
		TextTopic: cfg.TextTopic,
		Health:    a.dispatcher.State,
		Gatherer:  reg,
		Logger:    log.Named("http"),
	})
	return a, nil
}

func (a *App) setupHandlers() error {
	err := core.Register(a.dispatcher, a.cfg.UserTopic, codec.Int64{}, codec.JSON[model.User]{}, a.printUser)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", a.cfg.UserTopic, err)
	}
	err = core.Register(a.dispatcher, a.cfg.TextTopic, codec.String{}, codec.String{}, a.printText)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", a.cfg.TextTopic, err)
	}
	return nil
}

func (a *App) printUser(_ context.Context, m core.Message[int64, model.User]) error {
	a.log.Info("message consumed",
		zap.String("destination", m.Destination),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.Int64("key", m.Key),
		zap.Any("value", m.Value))
	return nil
}

func (a *App) printText(_ context.Context, m core.Message[string, string]) error {
	a.log.Info("message consumed",
		zap.String("destination", m.Destination),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.String("key", m.Key),
		zap.String("value", m.Value))
	return nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Run starts consuming and serving HTTP until ctx is cancelled or a
// component fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.dispatcher.Start(ctx); err != nil {
		_ = a.broker.Close()
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	server := &http.Server{Addr: a.cfg.HTTPAddr, Handler: a.router}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	a.log.Info("application started",
		zap.String("transport", a.cfg.Transport),
		zap.String("http_addr", a.cfg.HTTPAddr),
		zap.Strings("destinations", a.dispatcher.Destinations()))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down application")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	case <-a.dispatcher.Done():
		runErr = a.dispatcher.Err()
	}

	return errors.Join(runErr, a.shutdown(server))
}

// shutdown stops intake first, then waits for outstanding sends, then for
// in-flight handlers, and closes the broker last.
func (a *App) shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.users.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush %q: %w", a.cfg.UserTopic, err))
	}
	if err := a.texts.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush %q: %w", a.cfg.TextTopic, err))
	}
	if err := a.dispatcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}
	if err := a.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}

	a.log.Info("application shutdown complete")
	return errors.Join(errs...)
}
