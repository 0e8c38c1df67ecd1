package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetSessionStateMovesCountBetweenStates(t *testing.T) {
	c := New()

	c.SetSessionState("", "handshaking")
	require.Equal(t, float64(1), testutil.ToFloat64(c.SessionsByState.WithLabelValues("handshaking")))

	c.SetSessionState("handshaking", "authed")
	require.Equal(t, float64(0), testutil.ToFloat64(c.SessionsByState.WithLabelValues("handshaking")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.SessionsByState.WithLabelValues("authed")))
}

func TestRecordAuthOutcomeIncrementsCounter(t *testing.T) {
	c := New()

	c.RecordAuthOutcome("success")
	c.RecordAuthOutcome("success")
	c.RecordAuthOutcome("wrong_password")

	require.Equal(t, float64(2), testutil.ToFloat64(c.AuthOutcomes.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.AuthOutcomes.WithLabelValues("wrong_password")))
}

func TestSetThreadLoadSetsGaugeByThreadID(t *testing.T) {
	c := New()

	c.SetThreadLoad(3, 42)

	require.Equal(t, float64(42), testutil.ToFloat64(c.ThreadLoad.WithLabelValues("3")))
}
