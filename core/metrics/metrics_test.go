// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		StateMerges,
		InvalidReports,
		CommandsEnqueued,
		CommandsDrained,
		WebSocketConnections,
		Broadcasts,
		SendFailures,
		Alerts,
	}
	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)
		require.NotNil(t, <-desc)
	}
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(StateMerges.WithLabelValues(OriginDevice))
	StateMerges.WithLabelValues(OriginDevice).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StateMerges.WithLabelValues(OriginDevice)))

	before = testutil.ToFloat64(Alerts.WithLabelValues("gas", "cooldown"))
	Alerts.WithLabelValues("gas", "cooldown").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(Alerts.WithLabelValues("gas", "cooldown")))
}
