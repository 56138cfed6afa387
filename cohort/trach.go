package cohort

import "time"

// ResolveTrach finds the earliest tracheostomy evidence per hospitalization:
// an explicit tracheostomy flag or a trach collar device, whichever comes
// first.
//
// A hospitalization without evidence of its own inherits the time from the
// immediately preceding admission of the same patient when it was admitted
// no more than TrachLookback after that trach. Only the preceding admission's
// own evidence counts; imputed times are not chained forward.
func ResolveTrach(obs []Observation, hosps []Hospitalization) map[string]TrachEpisode {
	own := make(map[string]time.Time)
	for _, o := range obs {
		if !o.Tracheostomy && !IsTrachCollar(o.DeviceCategory) {
			continue
		}
		if t, ok := own[o.HospitalizationID]; !ok || o.RecordedDttm.Before(t) {
			own[o.HospitalizationID] = o.RecordedDttm
		}
	}

	out := make(map[string]TrachEpisode, len(own))
	for id, t := range own {
		out[id] = TrachEpisode{HospitalizationID: id, FirstTrachDttm: t}
	}

	for _, w := range GroupBy(hosps, patientKey, byAdmission) {
		for i, h := range w.Rows {
			if _, ok := own[h.HospitalizationID]; ok {
				continue
			}
			prev, ok := w.Prev(i)
			if !ok || h.AdmissionDttm == nil {
				continue
			}
			prior, ok := own[prev.HospitalizationID]
			if !ok {
				continue
			}
			if h.AdmissionDttm.Sub(prior) <= TrachLookback {
				out[h.HospitalizationID] = TrachEpisode{
					HospitalizationID: h.HospitalizationID,
					FirstTrachDttm:    prior,
					Imputed:           true,
				}
			}
		}
	}
	return out
}
