package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/protocol"
)

// ClientFactory creates the underlying MQTT client.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Dependencies holds the collaborators of an Input.
type Dependencies struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Links           protocol.LinkedAttributeEnumerator
	Sink            protocol.AttributeUpdateSink
	// NewClient defaults to paho.NewClient.
	NewClient ClientFactory
	// TLSConfig secures the broker connection when set.
	TLSConfig *tls.Config
}

// Input subscribes to the topics of its linked attributes and forwards every
// payload, as a string, to the update sink. It also publishes command
// payloads.
type Input struct {
	config  Config
	deps    Dependencies
	status  *protocol.StatusHolder
	metrics *inputMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	client   paho.Client
	ctx      context.Context
	cancel   context.CancelFunc
	bindings map[string][]asset.AttributeRef
}

var _ protocol.Protocol = (*Input)(nil)

// New creates a stopped input.
func New(config Config, deps Dependencies) (*Input, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Links == nil || deps.Sink == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: links and sink are required", errors.ErrMissingConfig),
			"Input", "New", "check dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewClient == nil {
		deps.NewClient = paho.NewClient
	}
	logger := deps.Logger.With("component", "mqtt", "protocol", config.ID)

	in := &Input{
		config:  config,
		deps:    deps,
		status:  protocol.NewStatusHolder(),
		metrics: newInputMetrics(deps.MetricsRegistry, config.ID, logger),
		logger:  logger,
	}
	in.status.OnChange(func(from, to protocol.Status, reason string) {
		in.logger.Info("Protocol status changed", "from", from.String(), "to", to.String(), "reason", reason)
		if deps.MetricsRegistry != nil {
			deps.MetricsRegistry.CoreMetrics().RecordProtocolStatus(config.ID, int(to))
		}
	})
	return in, nil
}

// ID returns the protocol instance id.
func (in *Input) ID() string { return in.config.ID }

// Status returns the connection status.
func (in *Input) Status() protocol.Status { return in.status.Get() }

// StatusHolder exposes the holder for listeners.
func (in *Input) StatusHolder() *protocol.StatusHolder { return in.status }

// Topics returns the bound topics, sorted.
func (in *Input) Topics() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	topics := make([]string, 0, len(in.bindings))
	for topic := range in.bindings {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Start snapshots the topic bindings and connects, retrying with exponential
// backoff. Subscriptions are (re)established on every connect.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.client != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Start", "check state")
	}
	in.status.Set(protocol.StatusConnecting, "starting")

	in.bindings = in.bind()
	in.ctx, in.cancel = context.WithCancel(context.Background())

	opts := paho.NewClientOptions().
		AddBroker(in.config.Broker).
		SetClientID(in.config.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(duration(in.config.ConnectTimeout, 10*time.Second)).
		SetOnConnectHandler(in.onConnect).
		SetConnectionLostHandler(in.onConnectionLost)
	if in.deps.TLSConfig != nil {
		opts.SetTLSConfig(in.deps.TLSConfig)
	}
	if in.config.Username != "" {
		opts.SetUsername(in.config.Username)
		opts.SetPassword(in.config.Password)
	}

	client := in.deps.NewClient(opts)
	if err := in.connect(ctx, client); err != nil {
		in.cancel()
		in.status.Set(protocol.StatusError, "connect failed")
		in.logger.Error("MQTT connect failed", "broker", in.config.Broker, "error", err)
		return err
	}
	in.client = client

	in.logger.Info("MQTT input started", "broker", in.config.Broker, "topics", len(in.bindings))
	return nil
}

func (in *Input) connect(ctx context.Context, client paho.Client) error {
	timeout := duration(in.config.ConnectTimeout, 10*time.Second)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = duration(in.config.ConnectMaxElapsed, 30*time.Second)
	retries := in.config.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		token := client.Connect()
		if !token.WaitTimeout(timeout) {
			in.logger.Warn("MQTT connect attempt timed out", "attempt", attempt)
			return fmt.Errorf("connect timeout after %v", timeout)
		}
		if err := token.Error(); err != nil {
			in.logger.Warn("MQTT connect attempt failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("connect to %s after %d attempts: %w", in.config.Broker, attempt, err),
			"Input", "Start", "connect")
	}
	return nil
}

// bind maps each topic to the attributes linked through it.
func (in *Input) bind() map[string][]asset.AttributeRef {
	linked := in.deps.Links.LinkedAttributes(in.config.ID)
	bindings := make(map[string][]asset.AttributeRef)
	for ref, attr := range linked {
		if attr.Link == nil || attr.Link.Topic == "" {
			in.logger.Warn("Linked attribute has no topic", "attribute", ref.String())
			continue
		}
		bindings[attr.Link.Topic] = append(bindings[attr.Link.Topic], ref)
	}
	for topic := range bindings {
		refs := bindings[topic]
		sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	}
	return bindings
}

func (in *Input) onConnect(client paho.Client) {
	in.mu.Lock()
	bindings := in.bindings
	ctx := in.ctx
	in.mu.Unlock()

	topics := make([]string, 0, len(bindings))
	for topic := range bindings {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	timeout := duration(in.config.ConnectTimeout, 10*time.Second)
	for _, topic := range topics {
		refs := bindings[topic]
		token := client.Subscribe(topic, in.config.QoS, func(_ paho.Client, msg paho.Message) {
			in.deliver(ctx, refs, msg.Payload())
		})
		if !token.WaitTimeout(timeout) || token.Error() != nil {
			in.status.Set(protocol.StatusError, "subscribe failed for "+topic)
			in.logger.Error("MQTT subscribe failed", "topic", topic, "error", token.Error())
			return
		}
	}
	in.status.Set(protocol.StatusConnected, "connected")
}

func (in *Input) onConnectionLost(_ paho.Client, err error) {
	in.status.Set(protocol.StatusConnecting, "connection lost")
	in.logger.Warn("MQTT connection lost, reconnecting", "error", err)
}

func (in *Input) deliver(ctx context.Context, refs []asset.AttributeRef, payload []byte) {
	if ctx.Err() != nil {
		return
	}
	value := strings.TrimSpace(string(payload))
	for _, ref := range refs {
		in.deps.Sink.UpdateAttribute(ctx, ref, value)
	}
	in.metrics.recordMessage(len(refs))
}

// Publish sends payload to topic and waits for the broker acknowledgement
// allowed by the configured QoS.
func (in *Input) Publish(ctx context.Context, topic, payload string) (err error) {
	defer func() { in.metrics.recordPublish(err) }()

	in.mu.Lock()
	client := in.client
	in.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return errors.WrapTransient(errors.ErrNotRunning, "Input", "Publish", "check connection")
	}

	token := client.Publish(topic, in.config.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.WrapTransient(err, "Input", "Publish", "publish "+topic)
		}
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Input", "Publish", "publish "+topic)
	}
}

// Stop disconnects and drops in-flight deliveries.
func (in *Input) Stop(_ context.Context) error {
	in.mu.Lock()
	client := in.client
	in.client = nil
	if in.cancel != nil {
		in.cancel()
	}
	in.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	in.status.Set(protocol.StatusDisconnected, "stopped")
	return nil
}
