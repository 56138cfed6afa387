// Package metrics records cohort run statistics as Prometheus gauges. A
// batch run has no scrape endpoint, so the registry is written out in the
// node-exporter textfile format instead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"imvcohort/cohort"
)

const namespace = "imvcohort"

// Recorder owns a private registry so repeated runs in one process, and
// tests, never collide on the default one.
type Recorder struct {
	reg *prometheus.Registry

	stage     *prometheus.GaugeVec
	excluded  *prometheus.GaugeVec
	inputRows *prometheus.GaugeVec
	dropped   prometheus.Gauge
	episodes  prometheus.Gauge
	duration  prometheus.Gauge
	lastRun   prometheus.Gauge
}

// NewRecorder creates a recorder whose series carry a constant site label.
func NewRecorder(site string) *Recorder {
	labels := prometheus.Labels{"site": site}
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		stage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stage_hospitalizations",
			Help:        "Hospitalizations remaining after each pipeline stage.",
			ConstLabels: labels,
		}, []string{"stage"}),
		excluded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "excluded_hospitalizations",
			Help:        "Episodes excluded at the discharge stage, by reason. An episode may count under both reasons.",
			ConstLabels: labels,
		}, []string{"reason"}),
		inputRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "input_rows",
			Help:        "Rows read from each input table.",
			ConstLabels: labels,
		}, []string{"table"}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "dropped_observations",
			Help:        "Respiratory observations dropped for a missing timestamp or unknown hospitalization.",
			ConstLabels: labels,
		}),
		episodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "episodes",
			Help:        "Index ventilation episodes in the final cohort.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the last run.",
			ConstLabels: labels,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished.",
			ConstLabels: labels,
		}),
	}
	r.reg.MustRegister(r.stage, r.excluded, r.inputRows, r.dropped, r.episodes, r.duration, r.lastRun)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveInputs sets the per-table row counts.
func (r *Recorder) ObserveInputs(rows map[string]int) {
	for table, n := range rows {
		r.inputRows.WithLabelValues(table).Set(float64(n))
	}
}

// ObserveFlow sets the attrition gauges from a pipeline flow.
func (r *Recorder) ObserveFlow(f cohort.Flow) {
	for _, s := range f.Stages() {
		r.stage.WithLabelValues(s.Stage).Set(float64(s.Count))
	}
	r.excluded.WithLabelValues("internal_transfer").Set(float64(f.InternalTransfer))
	r.excluded.WithLabelValues("missed_trach").Set(float64(f.MissedTrach))
	r.dropped.Set(float64(f.DroppedObservations))
	r.episodes.Set(float64(f.Final))
}

// ObserveDuration records the run's wall time and completion time.
func (r *Recorder) ObserveDuration(d time.Duration, finished time.Time) {
	r.duration.Set(d.Seconds())
	r.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes every series to path for the node-exporter textfile
// collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
