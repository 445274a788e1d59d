package logging

import (
	"log"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugOn   bool
		infoOn    bool
		warningOn bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"verbose", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			req := require.New(t)
			logger, err := New(tt.level)
			req.NoError(err)
			req.Equal(tt.debugOn, logger.Core().Enabled(zap.DebugLevel))
			req.Equal(tt.infoOn, logger.Core().Enabled(zap.InfoLevel))
			req.Equal(tt.warningOn, logger.Core().Enabled(zap.WarnLevel))
			req.Same(logger, zap.L())
		})
	}
}

func TestInstall_Redirects_Std_Log(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zap.InfoLevel)
	restore := install(zap.New(core))
	defer restore()

	log.Print("gocql: unable to dial control conn 10.0.0.7:9042")

	entries := logs.FilterLoggerName("stdlog").All()
	req.Len(entries, 1)
	req.Equal("gocql: unable to dial control conn 10.0.0.7:9042", entries[0].Message)
	req.Equal(zap.InfoLevel, entries[0].Level)
}
