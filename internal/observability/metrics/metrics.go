package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	signupOutcomes    metric.Int64Counter
	billingResults    metric.Int64Counter
	verificationEmail metric.Int64Counter
	sessionBroadcasts metric.Int64Counter
	backfillResults   metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "entrance"
	}
	meter := provider.Meter(name)

	signupOutcomes, err := meter.Int64Counter("entrance_signup_outcomes_total",
		metric.WithDescription("Signup attempts by outcome."))
	if err != nil {
		return nil, err
	}
	billingResults, err := meter.Int64Counter("entrance_signup_billing_total",
		metric.WithDescription("Billing identity provisioning during signup by result."))
	if err != nil {
		return nil, err
	}
	verificationEmail, err := meter.Int64Counter("entrance_signup_verification_email_total",
		metric.WithDescription("Verification email dispatch by result."))
	if err != nil {
		return nil, err
	}
	sessionBroadcasts, err := meter.Int64Counter("entrance_session_broadcast_total",
		metric.WithDescription("Session change broadcasts by result."))
	if err != nil {
		return nil, err
	}
	backfillResults, err := meter.Int64Counter("entrance_billing_backfill_total",
		metric.WithDescription("Deferred billing provisioning attempts by result."))
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("entrance_rate_limit_denied_total",
		metric.WithDescription("Requests rejected by the rate limiter."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		signupOutcomes:    signupOutcomes,
		billingResults:    billingResults,
		verificationEmail: verificationEmail,
		sessionBroadcasts: sessionBroadcasts,
		backfillResults:   backfillResults,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordSignupOutcome counts a finished signup attempt.
func (m *Metrics) RecordSignupOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.signupOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBilling counts billing provisioning results: success, deferred, failed.
func (m *Metrics) RecordBilling(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.billingResults.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerificationEmail counts verification email results: sent, failed, skipped.
func (m *Metrics) RecordVerificationEmail(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.verificationEmail.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionBroadcast counts session change broadcasts.
func (m *Metrics) RecordSessionBroadcast(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.sessionBroadcasts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBackfill counts deferred billing provisioning attempts.
func (m *Metrics) RecordBackfill(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.backfillResults.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"result":      {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
