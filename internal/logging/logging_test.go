package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

func TestWithAddsSessionAttrs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := InitWriter(&buf, "json", "debug")
	sc := session.New(model.RoleEditor).WithPlan("plan-1")
	With(logger, sc).Debug("advanced step", "step_id", "step-2")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "editor", rec["role"])
	assert.Equal(t, "plan-1", rec["plan_id"])
	assert.Equal(t, sc.TraceID, rec["trace_id"])
	assert.Equal(t, "step-2", rec["step_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
