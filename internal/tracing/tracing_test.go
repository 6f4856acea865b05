package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"idm-connector/internal/config"
	"idm-connector/internal/testutil"
)

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Init(ctx, &config.TracingConfig{Enabled: false}, testutil.Logger()))

	_, span := Tracer().Start(ctx, "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	Shutdown(ctx, testutil.Logger())
}
