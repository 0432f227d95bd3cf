package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/config"
	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/health"
	"github.com/c360/assetflow/input/mqtt"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/natsclient"
	"github.com/c360/assetflow/output/httppost"
	"github.com/c360/assetflow/output/influx"
	"github.com/c360/assetflow/pipeline"
	"github.com/c360/assetflow/pkg/retry"
	"github.com/c360/assetflow/pkg/scheduler"
	"github.com/c360/assetflow/pkg/tlsutil"
	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/processor/rule/expression"
	"github.com/c360/assetflow/protocol"
	"github.com/c360/assetflow/protocol/weather"
	"github.com/c360/assetflow/sensor"
)

// LogDriver is the command driver that only logs the command. It is always
// registered.
const LogDriver = "log"

// statusProtocol is a protocol whose status the health monitor can watch.
type statusProtocol interface {
	protocol.Protocol
	StatusHolder() *protocol.StatusHolder
}

// app owns every long-lived component of the process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *metric.MetricsRegistry
	monitor   *health.Monitor
	sensors   *sensor.Registry
	assets    *asset.Registry
	commands  *rule.CommandRegistry
	scheduler *scheduler.Scheduler
	engine    *rule.Engine
	pipeline  *pipeline.Pipeline
	protocols []statusProtocol

	nats    *natsclient.Client
	influx  *influx.Persistence
	metrics *metric.Server
}

// newApp builds and wires every component without starting any of them.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}
	a.monitor = health.NewMonitor(a.registry)

	var err error
	if a.sensors, err = cfg.BuildSensors(logger); err != nil {
		return nil, err
	}
	if a.assets, err = cfg.BuildAssets(logger); err != nil {
		return nil, err
	}
	if a.commands, err = cfg.BuildCommands(); err != nil {
		return nil, err
	}

	clientTLS, err := tlsutil.LoadClientTLSConfig(cfg.Security.TLS.Client)
	if err != nil {
		return nil, errors.WrapFatal(err, "App", "newApp", "load client TLS")
	}

	if err := a.buildEngine(); err != nil {
		return nil, err
	}
	if err := a.buildPipeline(clientTLS); err != nil {
		return nil, err
	}
	a.engine.SetReplaceHandler(a.pipeline.ApplyState)

	a.scheduler = scheduler.New(cfg.Scheduler.Workers, a.registry, logger)
	if err := a.buildProtocols(clientTLS); err != nil {
		return nil, err
	}
	a.registerHealth()

	if err := a.buildMetricsServer(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) buildEngine() error {
	deps := rule.Dependencies{
		Logger:          a.logger,
		MetricsRegistry: a.registry,
		Sensors:         a.sensors,
		Builders:        expression.NewBuilderFactory(a.logger),
	}
	if a.cfg.Influx.Enabled() {
		p, err := influx.New(a.cfg.Influx, a.registry, a.logger)
		if err != nil {
			return err
		}
		a.influx = p
		deps.Persistence = p
	}

	engine, err := rule.NewEngine(a.cfg.Rules, deps)
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

func (a *app) buildPipeline(clientTLS *tls.Config) error {
	deps := pipeline.Dependencies{
		Logger:          a.logger,
		MetricsRegistry: a.registry,
		Store:           a.assets,
		Sensors:         a.sensors,
		Engine:          a.engine,
	}

	if a.cfg.NATS.Enabled {
		client, err := a.newNATSClient(clientTLS)
		if err != nil {
			return err
		}
		a.nats = client
		deps.Events = natsclient.NewEventPublisher(client, retry.DefaultConfig(), a.registry, a.logger)
	}

	p, err := pipeline.New(a.cfg.Pipeline, deps)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *app) newNATSClient(clientTLS *tls.Config) (*natsclient.Client, error) {
	n := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(a.cfg.Platform.ID),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWaitDuration()),
	}
	switch {
	case n.Token != "":
		opts = append(opts, natsclient.WithToken(n.Token))
	case n.Username != "":
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if clientTLS != nil {
		opts = append(opts, natsclient.WithTLSConfig(clientTLS))
	}
	return natsclient.NewClient(n.URL(), opts...)
}

func (a *app) buildProtocols(clientTLS *tls.Config) error {
	for _, wc := range a.cfg.Weather {
		p, err := weather.New(wc, weather.Dependencies{
			Logger:          a.logger,
			MetricsRegistry: a.registry,
			Scheduler:       a.scheduler,
			Assets:          a.assets,
			Links:           a.assets,
			Sink:            a.pipeline,
		})
		if err != nil {
			return err
		}
		a.protocols = append(a.protocols, p)
	}

	for _, mc := range a.cfg.MQTT {
		in, err := mqtt.New(mc, mqtt.Dependencies{
			Logger:          a.logger,
			MetricsRegistry: a.registry,
			Links:           a.assets,
			Sink:            a.pipeline,
			TLSConfig:       clientTLS,
		})
		if err != nil {
			return err
		}
		a.protocols = append(a.protocols, in)
		a.commands.RegisterDriver(mc.ID, mqtt.CommandDriver(in))
		if len(a.cfg.MQTT) == 1 {
			a.commands.RegisterDriver(mqtt.DriverName, mqtt.CommandDriver(in))
		}
	}

	poster, err := httppost.New(a.cfg.HTTPCommands, clientTLS, a.registry, a.logger)
	if err != nil {
		return err
	}
	a.commands.RegisterDriver(httppost.DriverName, poster.Driver())
	a.commands.RegisterDriver(LogDriver, logDriver(a.logger))
	return nil
}

// logDriver builds commands that only log their target and argument.
func logDriver(logger *slog.Logger) rule.DriverFunc {
	logger = logger.With("component", "commands")
	return func(def rule.CommandDefinition) (rule.Executable, error) {
		return rule.ExecutableFunc(func(_ context.Context, arg string) error {
			logger.Info("Command executed", "command", def.Name, "target", def.Target, "value", arg)
			return nil
		}), nil
	}
}

func (a *app) registerHealth() {
	for _, p := range a.protocols {
		a.monitor.Watch(p.ID(), p.StatusHolder())
	}

	a.monitor.Probe("rule-engine", func() health.Status {
		if a.engine.Healthy() {
			return health.NewHealthy("rule-engine", a.engine.State().String())
		}
		return health.NewUnhealthy("rule-engine", a.engine.State().String())
	})

	if a.nats != nil {
		a.monitor.Probe("nats", func() health.Status {
			if a.nats.IsHealthy() {
				return health.NewHealthy("nats", "connected")
			}
			// Events are lost while disconnected but ingestion continues
			return health.NewDegraded("nats", a.nats.Status().String())
		})
	}
}

func (a *app) buildMetricsServer() error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	srv := metric.NewServer(a.cfg.Metrics.Addr, a.cfg.Metrics.Path, a.registry,
		a.monitor.HealthFunc(a.cfg.Platform.ID))

	serverTLS, err := tlsutil.LoadServerTLSConfig(a.cfg.Security.TLS.Server)
	if err != nil {
		return errors.WrapFatal(err, "App", "newApp", "load server TLS")
	}
	if serverTLS != nil {
		srv.SetTLSConfig(serverTLS)
	}
	a.metrics = srv
	return nil
}

// Start brings the components up in dependency order. A protocol that fails
// to start stays in the Error status and does not abort the process.
func (a *app) Start(ctx context.Context) error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.Start(); err != nil {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
		a.logger.Info("Metrics server listening", "address", a.metrics.Address())
	}

	if a.nats != nil {
		a.connectNATS(ctx)
	}

	if a.influx != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.influx.Ping(pingCtx); err != nil {
			a.logger.Warn("InfluxDB not reachable, persisting will be retried per state", "error", err)
		}
		cancel()
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := a.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := a.engine.Start(ctx, a.commands); err != nil {
		return fmt.Errorf("start rule engine: %w", err)
	}

	a.startProtocols(ctx)

	stats := a.engine.Stats()
	a.logger.Info("Started",
		"sensors", a.sensors.Len(),
		"assets", a.assets.Len(),
		"rules", stats.Rules,
		"protocols", len(a.protocols),
		"commands", len(a.commands.Names()))
	return nil
}

// startProtocols starts every protocol concurrently. A failure is logged
// and leaves that protocol in the Error status.
func (a *app) startProtocols(ctx context.Context) {
	var g errgroup.Group
	for _, p := range a.protocols {
		g.Go(func() error {
			if err := p.Start(ctx); err != nil {
				a.logger.Error("Protocol failed to start", "protocol", p.ID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// stopProtocols stops every protocol concurrently and joins their errors.
func stopProtocols(ctx context.Context, protocols []statusProtocol) error {
	errs := make([]error, len(protocols))
	var g errgroup.Group
	for i, p := range protocols {
		g.Go(func() error {
			if err := p.Stop(ctx); err != nil {
				errs[i] = fmt.Errorf("stop protocol %s: %w", p.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// connectNATS tries once and leaves reconnection to the client's circuit
// breaker on later publishes.
func (a *app) connectNATS(ctx context.Context) {
	if err := a.nats.Connect(ctx); err != nil {
		a.logger.Warn("NATS connect failed, attribute events are not published until it connects",
			"url", a.nats.URL(), "error", err)
		return
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.nats.WaitForConnection(connCtx); err != nil {
		a.logger.Warn("NATS connection not ready", "error", err)
	}
}

// Stop stops the components in reverse start order, collecting errors.
// Protocols stop first so no poll writes into a stopped pipeline.
func (a *app) Stop(ctx context.Context) error {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error
	if err := stopProtocols(ctx, a.protocols); err != nil {
		errs = append(errs, err)
	}
	if err := a.scheduler.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := a.pipeline.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop pipeline: %w", err))
	}
	if err := a.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop rule engine: %w", err))
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}
