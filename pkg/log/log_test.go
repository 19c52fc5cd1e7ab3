package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("manager starting")

	out := buf.String()
	assert.Contains(t, out, `"message":"manager starting"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestInitLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("noise")
	Logger.Warn().Msg("signal")

	out := buf.String()
	assert.NotContains(t, out, "noise")
	assert.Contains(t, out, "signal")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("store")
	logger.Info().Msg("database open")

	assert.Contains(t, buf.String(), `"component":"store"`)
}

func TestErrorf(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Errorf("dispatch failed", errors.New("queue unavailable"))

	out := buf.String()
	assert.Contains(t, out, `"error":"queue unavailable"`)
	assert.True(t, strings.Contains(out, "dispatch failed"))
}
