package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Events.WithLabelValues("telegram", "answer").Inc()
	m.ActiveUsers.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "formpipe_events_total")
	assert.Contains(t, names, "formpipe_active_mailboxes")
	assert.Panics(t, func() { New(reg) }, "collectors register once per registry")
}

func TestObserveSink(t *testing.T) {
	m := New(nil)
	m.ObserveSink(time.Now(), nil)
	m.ObserveSink(time.Now(), nil)
	m.ObserveSink(time.Now(), errors.New("quota"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues(OutcomeSaved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SinkDuration))
}
