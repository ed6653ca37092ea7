package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/pulmoscan/internal/config"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.WithField("task", "pneumonia").Info("prediction settled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "prediction settled", entry["msg"])
	assert.Equal(t, "pneumonia", entry["task"])
}

func TestTextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "shown"))
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithOutput(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	logger.Error("dropped")
}
