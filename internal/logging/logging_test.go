package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitSetsGlobalLevel(t *testing.T) {
	Init("debug")
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Init("warn")
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInitFallsBackToInfoOnBadLevel(t *testing.T) {
	Init("not-a-level")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestComponentTagsLogger(t *testing.T) {
	l := Component("publisher")
	require.NotNil(t, l.With())
}
