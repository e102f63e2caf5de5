package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: "INFO", want: zapcore.InfoLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "warning", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "unknown", want: zapcore.InfoLevel},
		{in: "", want: zapcore.InfoLevel},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLogLevel(tc.in), "parseLogLevel(%q)", tc.in)
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "pretty", ""} {
		log, err := NewLogger("debug", format)
		require.NoError(t, err, format)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
		_ = log.Sync()
	}
}
