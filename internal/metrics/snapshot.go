package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// WriteSnapshot gathers the default registry and writes the supervisor's
// own metric families in Prometheus text exposition format. Used for the
// exit summary so a run leaves a machine-readable trace even without a
// scraper attached.
func WriteSnapshot(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, fam := range families {
		if !isSwarmFamily(fam) {
			continue
		}
		if err := enc.Encode(fam); err != nil {
			return fmt.Errorf("encode %s: %w", fam.GetName(), err)
		}
	}
	return nil
}

// CounterValue reads back a supervisor counter or gauge by name, summing
// across label values. Returns 0 for unknown names.
func CounterValue(name string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return 0
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var total float64
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}

// isSwarmFamily keeps the snapshot to this module's own families.
func isSwarmFamily(fam *dto.MetricFamily) bool {
	const prefix = "worker_swarm_"
	name := fam.GetName()
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
