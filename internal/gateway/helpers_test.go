package gateway_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/cloud/memory"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/retry"
)

const testTarget = "https://www.example.com"

func fastRetry() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newProvisioner(cloud gateway.CloudAPI, opts ...gateway.ProvisionerOption) *gateway.Provisioner {
	return gateway.NewProvisioner(cloud, gateway.ProvisionerConfig{
		TargetURL:     testTarget,
		CreateTimeout: time.Second,
		DeleteTimeout: time.Second,
		Retry:         fastRetry(),
	}, opts...)
}

func newPool(
	cloud *memory.Cloud,
	regions []gateway.Region,
	perRegion int,
	opts ...gateway.PoolOption,
) *gateway.Pool {
	return gateway.NewPool(newProvisioner(cloud), gateway.PoolConfig{
		Regions:   regions,
		PerRegion: perRegion,
	}, opts...)
}

func ids(eps []*gateway.Endpoint) []string {
	out := make([]string, 0, len(eps))
	for _, e := range eps {
		out = append(out, e.ID)
	}
	return out
}

// metricValue returns the value of the series of name carrying labels.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				switch {
				case m.GetCounter() != nil:
					return m.GetCounter().GetValue()
				case m.GetGauge() != nil:
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
