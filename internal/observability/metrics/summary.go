package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Summary is the admin view of the scheduling counters.
type Summary struct {
	AppCalls        map[string]Outcomes `json:"app_calls"`
	AppCallP95Ms    float64             `json:"app_call_p95_ms"`
	Reminders       map[string]Outcomes `json:"reminders"`
	HookQueueDrops  int64               `json:"hook_queue_drops"`
	WebhookResults  map[string]int64    `json:"webhook_results"`
	DegradedQueries int64               `json:"degraded_availability_queries"`
}

// Outcomes counts results by outcome label.
type Outcomes map[string]int64

// Summarize reads the scheduling families from gatherer.
func Summarize(gatherer prometheus.Gatherer) Summary {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	out := Summary{
		AppCalls:       map[string]Outcomes{},
		Reminders:      map[string]Outcomes{},
		WebhookResults: map[string]int64{},
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return out
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case "medspa_scheduling_app_calls_total":
			addCounters(out.AppCalls, mf, "operation", "outcome")
		case "medspa_scheduling_reminders_total":
			addCounters(out.Reminders, mf, "channel", "outcome")
		case "medspa_scheduling_hook_queue_dropped_total":
			for _, m := range mf.Metric {
				out.HookQueueDrops += int64(m.GetCounter().GetValue())
			}
		case "medspa_scheduling_app_webhook_requests_total":
			for _, m := range mf.Metric {
				out.WebhookResults[labelValue(m, "result")] += int64(m.GetCounter().GetValue())
			}
		case "medspa_scheduling_availability_requests_total":
			for _, m := range mf.Metric {
				if labelValue(m, "degraded") == "true" {
					out.DegradedQueries += int64(m.GetCounter().GetValue())
				}
			}
		case "medspa_scheduling_app_call_latency_seconds":
			out.AppCallP95Ms = histogramP95(mf) * 1000.0
		}
	}
	return out
}

// SummaryHandler serves Summarize as JSON.
func SummaryHandler(gatherer prometheus.Gatherer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Summarize(gatherer))
	})
}

func addCounters(dst map[string]Outcomes, mf *dto.MetricFamily, keyLabel, outcomeLabel string) {
	for _, m := range mf.Metric {
		if m == nil {
			continue
		}
		key := labelValue(m, keyLabel)
		if dst[key] == nil {
			dst[key] = Outcomes{}
		}
		dst[key][labelValue(m, outcomeLabel)] += int64(m.GetCounter().GetValue())
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// histogramP95 merges every series of the family and returns the upper bound
// of the bucket holding the 95th percentile.
func histogramP95(mf *dto.MetricFamily) float64 {
	cumulative := map[float64]uint64{}
	var total uint64
	for _, m := range mf.Metric {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		total += h.GetSampleCount()
		for _, b := range h.Bucket {
			cumulative[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if total == 0 {
		return 0
	}

	uppers := make([]float64, 0, len(cumulative))
	for upper := range cumulative {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	target := 0.95 * float64(total)
	last := 0.0
	for _, upper := range uppers {
		if math.IsInf(upper, 1) {
			break
		}
		last = upper
		if float64(cumulative[upper]) >= target {
			return upper
		}
	}
	return last
}
