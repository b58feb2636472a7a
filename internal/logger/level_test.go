package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l, err := ParseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, l)
		})
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetLevelRoundTrip(t *testing.T) {
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, GetLevel())

	SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, GetLevel())
}

func TestFieldLoggerWithDoesNotAlias(t *testing.T) {
	base := Component("worker").With(zap.String("a", "1"))
	left := base.With(zap.String("side", "left"))
	right := base.With(zap.String("side", "right"))

	assert.Len(t, base.fields, 2)
	require.Len(t, left.fields, 3)
	require.Len(t, right.fields, 3)
	assert.Equal(t, "left", left.fields[2].String)
	assert.Equal(t, "right", right.fields[2].String)
}

func TestLBeforeInitIsUsable(t *testing.T) {
	assert.NotNil(t, L())
	Component("test").Info("not initialized yet")
}
