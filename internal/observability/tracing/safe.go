package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const maxErrorMessageLength = 256

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"email_address": {},
	"password":      {},
	"token":         {},
}

// ExtractContext restores the remote span context carried by carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that may carry credentials or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns a copy of err with a bounded, single-line message.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength]
	}
	return errors.New(msg)
}
