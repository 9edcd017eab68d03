package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json"}, &buf)
	assert.NilError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Str("point", "mode").Msg("kept")

	var line map[string]any
	assert.NilError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, line["message"], "kept")
	assert.Equal(t, line["point"], "mode")
	assert.Equal(t, line["level"], "warn")
}

func TestNew_RejectsBadSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"}, nil)
	assert.ErrorContains(t, err, "invalid log level")

	_, err = New(Config{Format: "xml"}, nil)
	assert.ErrorContains(t, err, "invalid log format")
}
