package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "success"),
		attribute.String("email_address", "bob@example.com"),
		attribute.String("reason", "token_bucket"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "email_address" {
			t.Fatalf("expected email_address to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordSignupOutcome(context.Background(), "success")
	m.RecordBilling(context.Background(), "deferred")
	m.RecordVerificationEmail(context.Background(), "failed")
	m.RecordSessionBroadcast(context.Background(), "sent")
	m.RecordBackfill(context.Background(), "provisioned")
	m.RecordRateLimitDenied(context.Background(), "signup", "token_bucket")
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatal("expected noop metrics")
	}
	m.RecordSignupOutcome(context.Background(), "email_already_in_use")
}
