package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_InfoWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pos-terminal", &buf)

	log.Info("order_cleared", "Order cleared", "req-1", map[string]interface{}{"items": 2})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "Order cleared", line["msg"])
	assert.Equal(t, "pos-terminal", line["service"])
	assert.Equal(t, "order_cleared", line["action"])
	assert.Equal(t, "req-1", line["request_id"])

	details, ok := line["details"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, details["items"])
}

func TestLogger_ErrorIncludesErrorGroup(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pos-terminal", &buf)

	log.Error("persist_failed", "Failed to persist", "", errors.New("disk full"), nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	group, ok := line["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "disk full", group["msg"])
	assert.NotEmpty(t, group["stack"])
}

func TestLogger_ErrorWithoutError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pos-terminal", &buf)

	log.Error("contract_violation", "Unexpected call", "", nil, nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	_, hasErr := line["error"]
	assert.False(t, hasErr)
}

func TestGenerateRequestID_Unique(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
