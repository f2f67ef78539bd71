package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.RemoteCall("update_tags", OutcomeSuccess)
	c.RemoteCall("update_tags", OutcomeSuccess)
	c.RemoteCall("add_member", OutcomeIgnored)
	c.RetryOutcome(OutcomeRecovered)
	c.BackfillRecords("SYNC_IDENTITY_SOURCE", 99, 1)
	c.BackfillPage("SYNC_IDENTITY_SOURCE", "CONTINUE")
	c.ConfigDiagnostic("MAILCHIMP_MEMBER_TAGS", "E203")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.remoteCalls.WithLabelValues("update_tags", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.remoteCalls.WithLabelValues("add_member", OutcomeIgnored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryOutcomes.WithLabelValues(OutcomeRecovered)))
	assert.Equal(t, 99.0, testutil.ToFloat64(c.backfillRecords.WithLabelValues("SYNC_IDENTITY_SOURCE", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backfillRecords.WithLabelValues("SYNC_IDENTITY_SOURCE", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backfillPages.WithLabelValues("SYNC_IDENTITY_SOURCE", "CONTINUE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.configDiagnostics.WithLabelValues("MAILCHIMP_MEMBER_TAGS", "E203")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RemoteCall("x", OutcomeError)
		c.RetryOutcome(OutcomeExhausted)
		c.BackfillRecords("x", 1, 1)
		c.BackfillPage("x", "PASS")
		c.ConfigDiagnostic("k", "E201")
	})
}
