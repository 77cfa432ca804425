package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONWhenNotDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(false, buf)
	defer Init(false, nil)

	ForProject("dispatcher", "p-1").Info("hello")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "dispatcher", rec["component"])
	assert.Equal(t, "p-1", rec["project_id"])
}

func TestInit_DebugEnablesDebugLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(true, buf)
	defer Init(false, nil)

	Log().Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
