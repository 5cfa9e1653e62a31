package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerOutputs(t *testing.T) {
	origLevel, origPath := GlobalLogLevel, GlobalLogPath
	t.Cleanup(func() {
		GlobalLogLevel, GlobalLogPath = origLevel, origPath
	})

	InitLoggerOutputs("debug", "/tmp/alt.log")
	assert.Equal(t, "debug", GlobalLogLevel)
	assert.Equal(t, "/tmp/alt.log", GlobalLogPath)

	// Empty values must not clobber what is already set.
	InitLoggerOutputs("", "")
	assert.Equal(t, "debug", GlobalLogLevel)
	assert.Equal(t, "/tmp/alt.log", GlobalLogPath)
}

func TestSetGlobalLoggerNop(t *testing.T) {
	SetGlobalLogger(NewNopLogger())

	l := Get()
	require.NotNil(t, l)
	l.Debugf("discarded %d", 1)
	l.Infof("discarded %s", "too")
}
