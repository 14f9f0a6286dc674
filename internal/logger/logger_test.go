package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" DEBUG ", LevelDebug, false},
		{"", LevelInfo, false},
		{"info", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	orig, origFlags := log.Writer(), log.Flags()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFlags(0)
	t.Cleanup(func() {
		SetOutput(orig)
		SetFlags(origFlags)
		SetLevel(LevelInfo)
	})

	l := New("Test")

	SetLevel(LevelWarn)
	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	assert.Equal(t, "[WARN] [Test] shown 2\n", buf.String())
	assert.False(t, EnabledDebug())

	buf.Reset()
	t.Setenv("LOG_LEVEL", "debug")
	InitFromEnv()
	require.Equal(t, LevelDebug, CurrentLevel())
	l.Debugf("detail")
	assert.Equal(t, "[DEBUG] [Test] detail\n", buf.String())
}
