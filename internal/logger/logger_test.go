package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel("debug"), WithField("node", "n1"))

	l.Infof("became leader: term = %d", 3)

	out := buf.String()
	require.True(t, strings.Contains(out, "became leader"))
	require.True(t, strings.Contains(out, `"node":"n1"`))
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel("warn"))

	l.Debug("should not appear")
	l.Warn("should appear")

	out := buf.String()
	require.False(t, strings.Contains(out, "should not appear"))
	require.True(t, strings.Contains(out, "should appear"))
}
