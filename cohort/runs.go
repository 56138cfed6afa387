package cohort

import (
	"slices"
	"time"
)

// Segment is a maximal block of consecutive rows sharing the same IMV status.
// It covers seq[Lo:Hi].
type Segment struct {
	RunID int
	IMV   bool
	Lo    int
	Hi    int
}

// Segments partitions one hospitalization's ordered sequence into maximal
// constant IMV/non-IMV blocks, numbered from 1. The segments are contiguous
// and cover every row exactly once.
func Segments(seq []Observation) []Segment {
	var segs []Segment
	for i, o := range seq {
		imv := IsIMV(o.DeviceCategory)
		if n := len(segs); n > 0 && segs[n-1].IMV == imv {
			segs[n-1].Hi = i + 1
			continue
		}
		segs = append(segs, Segment{RunID: len(segs) + 1, IMV: imv, Lo: i, Hi: i + 1})
	}
	return segs
}

// IdentifyRuns returns the IMV runs of one hospitalization's ordered
// sequence. A run ends at the next recorded row of any category, or at its
// own last row when nothing follows.
func IdentifyRuns(seq []Observation) []IMVRun {
	var runs []IMVRun
	for _, s := range Segments(seq) {
		if !s.IMV {
			continue
		}
		end := seq[s.Hi-1].RecordedDttm
		if s.Hi < len(seq) {
			end = seq[s.Hi].RecordedDttm
		}
		runs = append(runs, IMVRun{
			HospitalizationID: seq[s.Lo].HospitalizationID,
			RunID:             s.RunID,
			BeginIMV:          seq[s.Lo].RecordedDttm,
			EndIMV:            end,
		})
	}
	return runs
}

// MergeRuns joins runs of the same hospitalization whose gap to the next run
// is shorter than maxGap. Chains merge transitively: a group only closes
// where a run does not combine forward. Groups take the earliest begin and
// the latest end of their members and come back ordered by begin.
func MergeRuns(runs []IMVRun, maxGap time.Duration) []MergedRun {
	var out []MergedRun
	for _, w := range GroupBy(runs, runKey, byBegin) {
		combine := make([]bool, w.Len())
		for i, r := range w.Rows {
			if next, ok := w.Next(i); ok {
				combine[i] = next.BeginIMV.Sub(r.EndIMV) < maxGap
			}
		}

		var cur *MergedRun
		id := 0
		for i, r := range w.Rows {
			if i == 0 || !combine[i-1] {
				if cur != nil {
					out = append(out, *cur)
				}
				id++
				cur = &MergedRun{
					HospitalizationID: w.Key,
					MergeID:           id,
					BeginIMV:          r.BeginIMV,
					EndIMV:            r.EndIMV,
				}
			}
			if r.BeginIMV.Before(cur.BeginIMV) {
				cur.BeginIMV = r.BeginIMV
			}
			if r.EndIMV.After(cur.EndIMV) {
				cur.EndIMV = r.EndIMV
			}
			cur.Runs++
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}

// IndexEpisodes segments and merges each hospitalization in obs and returns
// its earliest merged run, whatever its length. Hospitalizations without an
// IMV row are absent.
func IndexEpisodes(obs []Observation) []MergedRun {
	var out []MergedRun
	for _, w := range GroupBy(obs, hospKey, byRecorded) {
		merged := MergeRuns(IdentifyRuns(w.Rows), GapThreshold)
		if len(merged) == 0 {
			continue
		}
		out = append(out, merged[0])
	}
	return out
}

// KeepSignificant drops runs shorter than minDuration.
func KeepSignificant(runs []MergedRun, minDuration time.Duration) []MergedRun {
	return slices.DeleteFunc(slices.Clone(runs), func(m MergedRun) bool {
		return m.EndIMV.Sub(m.BeginIMV) < minDuration
	})
}

func runKey(r IMVRun) string { return r.HospitalizationID }

func byBegin(a, b IMVRun) int { return a.BeginIMV.Compare(b.BeginIMV) }
