package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotInitialized(t *testing.T) {
	Info("Test log.Info", " value is ", 10)
	Infof("Test log.Infof %d", 10)
	Infow("Test log.Infow", "value", 10)
	Debugf("Test log.Debugf %d", 10)
	Error("Test log.Error", " value is ", 10)
	Errorf("Test log.Errorf %d", 10)
	Errorw("Test log.Errorw", "value", 10)
	Warnf("Test log.Warnf %d", 10)
	Warnw("Test log.Warnw", "value", 10)
}

func TestLog(t *testing.T) {
	cfg := Config{
		Environment: EnvironmentDevelopment,
		Level:       "debug",
		Outputs:     []string{"stderr"},
	}
	Init(cfg)

	Info("Test log.Info", " value is ", 10)
	Error("Test log.Error with err", errors.New("failure"))
	WithFields("chain", 1).Infof("Test log.WithFields %d", 10)
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, _, err := NewLogger(Config{Environment: EnvironmentProduction, Level: "loud", Outputs: []string{"stderr"}})
	require.Error(t, err)
}

func TestAppendStackTrace(t *testing.T) {
	args := appendStackTraceMaybeArgs([]interface{}{"msg", errors.New("boom")})
	assert.Len(t, args, 3)

	args = appendStackTraceMaybeArgs([]interface{}{"msg"})
	assert.Len(t, args, 1)
}
