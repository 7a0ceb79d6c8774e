package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zap.AtomicLevel
	}{
		{"debug", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"warn", zap.NewAtomicLevelAt(zap.WarnLevel)},
		{"error", zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{"", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"loud", zap.NewAtomicLevelAt(zap.InfoLevel)},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New("production", tt.level)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.want.Level()))
			if tt.want.Level() > zap.DebugLevel {
				assert.False(t, log.Core().Enabled(tt.want.Level()-1))
			}
		})
	}
}
