package natsclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/c360/assetflow/asset"
	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/pkg/retry"
)

// SubjectPrefix is the root of every attribute event subject.
const SubjectPrefix = "assetflow.attribute"

// Publisher is the subset of Client used to publish events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// EventPublisher publishes committed attribute events, retrying transient
// failures.
type EventPublisher struct {
	pub     Publisher
	retry   retry.Config
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewEventPublisher wraps pub. registry may be nil.
func NewEventPublisher(pub Publisher, cfg retry.Config, registry *metric.MetricsRegistry, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &EventPublisher{
		pub:    pub,
		retry:  cfg,
		logger: logger.With("component", "event-publisher"),
	}
	if registry != nil {
		p.metrics = registry.CoreMetrics()
	}
	return p
}

// AttributeSubject returns the subject for ref. Tokens are sanitized so an id
// never introduces extra subject levels or wildcards.
func AttributeSubject(ref asset.AttributeRef) string {
	return SubjectPrefix + "." + token(ref.AssetID) + "." + token(ref.Name)
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// PublishAttribute publishes ev as JSON on its attribute subject.
func (p *EventPublisher) PublishAttribute(ctx context.Context, ev asset.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "EventPublisher", "PublishAttribute", "marshal event")
	}
	subject := AttributeSubject(ev.Ref)

	err = retry.Transient(ctx, p.retry, func() error {
		return p.pub.Publish(ctx, subject, data)
	})
	if p.metrics != nil {
		p.metrics.RecordEventPublished(err == nil)
	}
	if err != nil {
		p.logger.Warn("Attribute event not published", "subject", subject, "error", err)
		return errors.Wrap(err, "EventPublisher", "PublishAttribute", "publish "+subject)
	}
	return nil
}
