package metrics

import (
	"fmt"
	"slices"

	dto "github.com/prometheus/client_model/go"
)

// sample finds the series in family name carrying label=value.
func sample(mfs []*dto.MetricFamily, name, label, value string) (*dto.Metric, error) {
	i := slices.IndexFunc(mfs, func(mf *dto.MetricFamily) bool { return mf.GetName() == name })
	if i < 0 {
		return nil, fmt.Errorf("metric %q not gathered", name)
	}
	for _, m := range mfs[i].GetMetric() {
		if slices.ContainsFunc(m.GetLabel(), func(lp *dto.LabelPair) bool {
			return lp.GetName() == label && lp.GetValue() == value
		}) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("metric %q has no series with %s=%s", name, label, value)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	m, err := sample(mfs, name, label, value)
	if err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	m, err := sample(mfs, name, label, value)
	if err != nil {
		return 0, err
	}
	return m.GetHistogram().GetSampleSum(), nil
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	if i := slices.IndexFunc(mfs, func(mf *dto.MetricFamily) bool { return mf.GetName() == name }); i >= 0 {
		return mfs[i]
	}
	return nil
}
