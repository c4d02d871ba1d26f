package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFrom_FallsBackToSingleton(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := ReplaceForTests(zap.New(core))
	defer restore()

	From(context.Background()).Info("hola")
	require.Equal(t, 1, logs.Len())
}

func TestScoped_AddsTransportFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := ReplaceForTests(zap.New(core))
	defer restore()

	ctx, _ := Scoped(context.Background(), "radius", "req-1", "10.0.0.1:5000")
	From(ctx).Info("packet", Username("john"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "radius", fields["protocol"])
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "10.0.0.1:5000", fields["remote_addr"])
	require.Equal(t, "john", fields["username"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"": "info", "DEBUG": "debug", "warning": "warn", "error": "error", "bogus": "info"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q)=%s want %s", in, got, want)
		}
	}
}
