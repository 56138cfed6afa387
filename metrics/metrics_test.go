package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imvcohort/cohort"
)

func testFlow() cohort.Flow {
	return cohort.Flow{
		Hospitalizations:    10,
		Adult:               9,
		WithIMV:             7,
		PreTrachIMV:         6,
		WithRun:             6,
		Run24h:              5,
		InternalTransfer:    1,
		MissedTrach:         2,
		Final:               3,
		DroppedObservations: 4,
	}
}

func TestRecorderObserveFlow(t *testing.T) {
	r := NewRecorder("site-a")
	r.ObserveFlow(testFlow())

	assert.Equal(t, 10.0, testutil.ToFloat64(r.stage.WithLabelValues("loaded")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.stage.WithLabelValues("run_24h")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.stage.WithLabelValues("not_internal_transfer")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.stage.WithLabelValues("final")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.excluded.WithLabelValues("missed_trach")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.episodes))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.dropped))
	assert.Equal(t, len(testFlow().Stages()), testutil.CollectAndCount(r.stage))
}

func TestRecorderInputsAndDuration(t *testing.T) {
	r := NewRecorder("site-a")
	r.ObserveInputs(map[string]int{"patient": 12, "hospitalization": 20})
	r.ObserveDuration(1500*time.Millisecond, time.Unix(1700000000, 0))

	assert.Equal(t, 12.0, testutil.ToFloat64(r.inputRows.WithLabelValues("patient")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.duration))
	assert.Equal(t, 1.7e9, testutil.ToFloat64(r.lastRun))

	expected := `
# HELP imvcohort_input_rows Rows read from each input table.
# TYPE imvcohort_input_rows gauge
imvcohort_input_rows{site="site-a",table="hospitalization"} 20
imvcohort_input_rows{site="site-a",table="patient"} 12
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "imvcohort_input_rows"))
}

func TestRecorderWriteTextfile(t *testing.T) {
	r := NewRecorder("site-a")
	r.ObserveFlow(testFlow())

	path := filepath.Join(t.TempDir(), "imvcohort.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `imvcohort_stage_hospitalizations{site="site-a",stage="adult"} 9`)
	assert.Contains(t, text, `imvcohort_excluded_hospitalizations{reason="internal_transfer",site="site-a"} 1`)
	assert.Contains(t, text, `imvcohort_episodes{site="site-a"} 3`)
}
