package cohort

// FilterCounts reports how many hospitalizations survive each cohort rule.
type FilterCounts struct {
	Adult       int
	WithIMV     int
	PreTrachIMV int
}

// FilterCohort restricts observations to adult hospitalizations with at least
// one IMV observation. For hospitalizations with a resolved trach time the
// stream is cut to rows recorded strictly before it; those left with no IMV
// row at all are dropped.
//
// obs must already be LOCF-filled. The result keeps obs grouping and order.
func FilterCohort(obs []Observation, hosps []Hospitalization, trach map[string]TrachEpisode, minAge float64) ([]Observation, FilterCounts) {
	var counts FilterCounts

	adult := make(map[string]bool)
	for _, h := range hosps {
		if h.AgeAtAdmission != nil && *h.AgeAtAdmission >= minAge {
			adult[h.HospitalizationID] = true
		}
	}
	counts.Adult = len(adult)

	var kept []Window[Observation]
	for _, w := range GroupBy(obs, hospKey, nil) {
		if !adult[w.Key] || !anyIMV(w.Rows) {
			continue
		}
		counts.WithIMV++

		te, ok := trach[w.Key]
		if !ok {
			kept = append(kept, w)
			continue
		}
		pre := make([]Observation, 0, len(w.Rows))
		for _, o := range w.Rows {
			if o.RecordedDttm.Before(te.FirstTrachDttm) {
				pre = append(pre, o)
			}
		}
		if !anyIMV(pre) {
			continue
		}
		kept = append(kept, Window[Observation]{Key: w.Key, Rows: pre})
	}

	counts.PreTrachIMV = len(kept)
	return flatten(kept), counts
}

func anyIMV(rows []Observation) bool {
	for _, o := range rows {
		if IsIMV(o.DeviceCategory) {
			return true
		}
	}
	return false
}
