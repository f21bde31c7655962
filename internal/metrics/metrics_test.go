package metrics

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/brandkeeper/internal/errs"
)

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, Operations.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveCountsByResult(t *testing.T) {
	before := counterValue(t, "memory", "store", "access_denied")

	Observe("memory", "store", time.Now(), errs.E(errs.KindAccessDenied, "store", "no"))

	assert.Equal(t, before+1, counterValue(t, "memory", "store", "access_denied"))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
	assert.Equal(t, "not_found", Result(errs.E(errs.KindNotFound, "get", "x")))
}
