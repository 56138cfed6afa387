package cohort

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// ErrDuplicateHospitalization is returned when two hospitalization rows
// share an id.
var ErrDuplicateHospitalization = errors.New("duplicate hospitalization_id")

// Options tunes a Build run. A nil MinAge uses DefaultMinAge; the zero
// Logger is disabled.
type Options struct {
	MinAge *float64
	Logger zerolog.Logger
}

// Flow counts hospitalizations remaining after each stage, plus the
// observations dropped during normalization.
type Flow struct {
	Hospitalizations    int `json:"hospitalizations"`
	Adult               int `json:"adult"`
	WithIMV             int `json:"with_imv"`
	PreTrachIMV         int `json:"pre_trach_imv"`
	WithRun             int `json:"with_run"`
	Run24h              int `json:"run_24h"`
	InternalTransfer    int `json:"internal_transfer"`
	MissedTrach         int `json:"missed_trach"`
	Final               int `json:"final"`
	DroppedObservations int `json:"dropped_observations"`
}

// StageCount is one named entry of a Flow.
type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// Stages lists the hospitalization counts in pipeline order.
func (f Flow) Stages() []StageCount {
	return []StageCount{
		{"loaded", f.Hospitalizations},
		{"adult", f.Adult},
		{"with_imv", f.WithIMV},
		{"pre_trach_imv", f.PreTrachIMV},
		{"with_run", f.WithRun},
		{"run_24h", f.Run24h},
		{"not_internal_transfer", f.Run24h - f.InternalTransfer},
		{"final", f.Final},
	}
}

// Result is the output of Build.
type Result struct {
	Episodes []FinalEpisode
	Flow     Flow
	Trach    map[string]TrachEpisode
}

// Build runs the full pipeline over in: normalize, resolve tracheostomy,
// filter the cohort, segment runs, and resolve transfers and discharges.
// Inputs are not modified.
func Build(in Inputs, opts Options) (*Result, error) {
	log := opts.Logger
	minAge := float64(DefaultMinAge)
	if opts.MinAge != nil {
		minAge = *opts.MinAge
	}

	hospByID := make(map[string]Hospitalization, len(in.Hospitalizations))
	for _, h := range in.Hospitalizations {
		if _, dup := hospByID[h.HospitalizationID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHospitalization, h.HospitalizationID)
		}
		hospByID[h.HospitalizationID] = h
	}
	deaths := make(map[string]Patient, len(in.Patients))
	for _, p := range in.Patients {
		deaths[p.PatientID] = p
	}

	var flow Flow
	flow.Hospitalizations = len(hospByID)

	// Normalize.
	obs := make([]Observation, 0, len(in.Observations))
	for _, o := range in.Observations {
		if _, ok := hospByID[o.HospitalizationID]; !ok || o.RecordedDttm.IsZero() {
			flow.DroppedObservations++
			continue
		}
		obs = append(obs, o)
	}
	obs = FillForward(obs)
	log.Info().Str("stage", "normalize").
		Int("observations", len(obs)).
		Int("dropped", flow.DroppedObservations).
		Msg("observations filled forward")

	// Tracheostomy.
	trach := ResolveTrach(obs, in.Hospitalizations)
	imputed := 0
	for _, te := range trach {
		if te.Imputed {
			imputed++
		}
	}
	log.Info().Str("stage", "trach").
		Int("hospitalizations", len(trach)).
		Int("imputed", imputed).
		Msg("tracheostomy times resolved")

	// Cohort.
	obs, fc := FilterCohort(obs, in.Hospitalizations, trach, minAge)
	flow.Adult, flow.WithIMV, flow.PreTrachIMV = fc.Adult, fc.WithIMV, fc.PreTrachIMV
	log.Info().Str("stage", "filter").
		Int("adult", fc.Adult).
		Int("with_imv", fc.WithIMV).
		Int("pre_trach_imv", fc.PreTrachIMV).
		Msg("cohort filtered")

	// Runs.
	index := IndexEpisodes(obs)
	flow.WithRun = len(index)
	index = KeepSignificant(index, MinEpisodeDuration)
	flow.Run24h = len(index)
	log.Info().Str("stage", "segment").
		Int("with_run", flow.WithRun).
		Int("run_24h", flow.Run24h).
		Msg("index episodes segmented")

	// Transfers and discharge.
	// Links run over every admission of the patient, ventilated or not.
	tags := TagTransfers(in.Hospitalizations)
	internal := InternalTransfers(in.Hospitalizations, tags)

	episodes := make([]FinalEpisode, 0, len(index))
	for _, m := range index {
		h := hospByID[m.HospitalizationID]
		missed := MissedTrach(h, m.EndIMV)
		if missed {
			flow.MissedTrach++
		}
		if internal[h.HospitalizationID] {
			flow.InternalTransfer++
		}
		if missed || internal[h.HospitalizationID] {
			log.Debug().Str("hospitalization_id", h.HospitalizationID).
				Bool("missed_trach", missed).
				Bool("internal_transfer", internal[h.HospitalizationID]).
				Msg("episode excluded")
			continue
		}

		ep := FinalEpisode{
			PatientID:         h.PatientID,
			HospitalizationID: h.HospitalizationID,
			AdmissionDttm:     h.AdmissionDttm,
			DischargeDttm:     h.DischargeDttm,
			BeginIMV:          m.BeginIMV,
			EndIMV:            m.EndIMV,
			TotalIMVHours:     m.Hours(),
			DischargeCategory: h.DischargeCategory,
			TransferStatus:    tags[h.HospitalizationID],
			DeathDttm:         deaths[h.PatientID].DeathDttm,
		}
		if te, ok := trach[h.HospitalizationID]; ok {
			t := te.FirstTrachDttm
			ep.FirstTrachDttm = &t
			ep.TrachImputed = te.Imputed
		}
		episodes = append(episodes, ep)
	}
	flow.Final = len(episodes)
	log.Info().Str("stage", "discharge").
		Int("internal_transfer", flow.InternalTransfer).
		Int("missed_trach", flow.MissedTrach).
		Int("final", flow.Final).
		Msg("transfers and discharges resolved")

	slices.SortStableFunc(episodes, compareEpisodes)
	return &Result{Episodes: episodes, Flow: flow, Trach: trach}, nil
}

func compareEpisodes(a, b FinalEpisode) int {
	if c := cmp.Compare(a.PatientID, b.PatientID); c != 0 {
		return c
	}
	ha := Hospitalization{AdmissionDttm: a.AdmissionDttm}
	hb := Hospitalization{AdmissionDttm: b.AdmissionDttm}
	if c := byAdmission(ha, hb); c != 0 {
		return c
	}
	return cmp.Compare(a.HospitalizationID, b.HospitalizationID)
}
