package cohort

import "strings"

// FillForward resolves blank device categories with the most recent
// non-blank category at or before each row, per hospitalization. Rows before
// the first non-blank value stay blank. The result is grouped by
// hospitalization and ordered by RecordedDttm within each group.
func FillForward(obs []Observation) []Observation {
	windows := GroupBy(obs, hospKey, byRecorded)
	for i := range windows {
		fillWindow(windows[i].Rows)
	}
	return flatten(windows)
}

func fillWindow(rows []Observation) {
	last := ""
	for i := range rows {
		cat := strings.TrimSpace(rows[i].DeviceCategory)
		if cat == "" {
			rows[i].DeviceCategory = last
			continue
		}
		rows[i].DeviceCategory = cat
		last = cat
	}
}
