package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	t.Run("parses level", func(t *testing.T) {
		l := New(&bytes.Buffer{}, "DEBUG")
		require.Equal(t, zerolog.DebugLevel, l.GetLevel())
	})

	t.Run("falls back to info", func(t *testing.T) {
		require.Equal(t, zerolog.InfoLevel, New(&bytes.Buffer{}, "").GetLevel())
		require.Equal(t, zerolog.InfoLevel, New(&bytes.Buffer{}, "loud").GetLevel())
	})
}

func TestSetGlobalLogger(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { SetGlobalLogger(prev) })

	var buf bytes.Buffer
	SetGlobalLogger(New(&buf, "info"))

	Info().Str("collection", "users").Msg("index created")
	Debug().Msg("hidden")

	out := buf.String()
	require.Contains(t, out, `"collection":"users"`)
	require.Contains(t, out, `"component":"docorm"`)
	require.NotContains(t, out, "hidden")
}
