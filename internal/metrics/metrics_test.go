package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/pamflow/internal/identifier"
	"github.com/savegress/pamflow/internal/scenario"
)

var (
	_ identifier.Metrics = (*Metrics)(nil)
	_ scenario.Metrics   = (*Metrics)(nil)
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IdentifierIssued("PI", "pattern")
	m.IdentifierIssued("PI", "pattern")
	m.IdentifierExhausted("VN")
	m.ValidationResult("pam", false, 2, 1)
	m.ValidationResult("pam", true, 0, 3)
	m.Transition(TransitionRejected)
	m.MessagesShifted(5)
	m.ReplayStep("accepted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.identifiersIssued.WithLabelValues("PI", "pattern")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.identifiersExhausted.WithLabelValues("VN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validatedMessages.WithLabelValues("pam", "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationIssues.WithLabelValues("pam", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.validationIssues.WithLabelValues("pam", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(TransitionRejected)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.messagesShifted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replaySteps.WithLabelValues("accepted")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MessagesShifted(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pamflow_scenario_messages_shifted_total 3")
}
