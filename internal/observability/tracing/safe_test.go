package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSubscriberData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("destination", "+6281234567890"),
		attribute.String("http.route", "/api/v1/messages/charge"),
	)
	if assert.Len(t, attrs, 1) {
		assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	}
}

func TestSafeErrorUnwrapsToRoot(t *testing.T) {
	root := errors.New("insufficient_balance")
	wrapped := fmt.Errorf("charge account 42 for +628123: %w", root)

	assert.Equal(t, "insufficient_balance", SafeError(wrapped).Error())
	assert.Nil(t, SafeError(nil))
}
