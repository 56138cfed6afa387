package cohort

import (
	"strings"
	"time"
)

// transferDispositions are discharge categories that can start a transfer.
var transferDispositions = []string{"Acute Care Hospital", "Other"}

// closedDispositions are discharge categories under which ventilation
// running up to discharge is expected and not a missed tracheostomy.
var closedDispositions = []string{"Expired", "Other", "Acute Care Hospital", "Hospice"}

// TagTransfers links consecutive admissions of the same patient. When an
// admission ends with a transfer disposition and the next one starts less
// than TransferWindow later, the earlier is tagged Transfer Out and the later
// Transfer In. An admission that is both gets Transfer In then Out.
// Untagged admissions are absent from the result.
func TagTransfers(hosps []Hospitalization) map[string]TransferStatus {
	tags := make(map[string]TransferStatus)
	for _, w := range GroupBy(hosps, patientKey, byAdmission) {
		in := make([]bool, w.Len())
		out := make([]bool, w.Len())
		for i, h := range w.Rows {
			next, ok := w.Next(i)
			if ok && transferLink(h, next) {
				out[i] = true
				in[i+1] = true
			}
		}
		for i, h := range w.Rows {
			switch {
			case in[i] && out[i]:
				tags[h.HospitalizationID] = TransferInThenOut
			case out[i]:
				tags[h.HospitalizationID] = TransferOut
			case in[i]:
				tags[h.HospitalizationID] = TransferIn
			}
		}
	}
	return tags
}

func transferLink(cur, next Hospitalization) bool {
	if cur.DischargeDttm == nil || next.AdmissionDttm == nil {
		return false
	}
	if !oneOf(cur.DischargeCategory, transferDispositions) {
		return false
	}
	return next.AdmissionDttm.Sub(*cur.DischargeDttm) < TransferWindow
}

// InternalTransfers flags admissions tagged Transfer In whose preceding
// admission was tagged Transfer Out or Transfer In then Out. Their episode
// continues the earlier admission's and is not a new index event.
func InternalTransfers(hosps []Hospitalization, tags map[string]TransferStatus) map[string]bool {
	flags := make(map[string]bool)
	for _, w := range GroupBy(hosps, patientKey, byAdmission) {
		for i, h := range w.Rows {
			if tags[h.HospitalizationID] != TransferIn {
				continue
			}
			prev, ok := w.Prev(i)
			if !ok {
				continue
			}
			switch tags[prev.HospitalizationID] {
			case TransferOut, TransferInThenOut:
				flags[h.HospitalizationID] = true
			}
		}
	}
	return flags
}

// MissedTrach reports a patient still ventilated within DischargeProximity of
// discharge under a disposition that does not explain it. A missing
// discharge time never flags.
func MissedTrach(h Hospitalization, endIMV time.Time) bool {
	if h.DischargeDttm == nil {
		return false
	}
	if h.DischargeDttm.Sub(endIMV) > DischargeProximity {
		return false
	}
	return !oneOf(h.DischargeCategory, closedDispositions)
}

func oneOf(s string, set []string) bool {
	s = strings.TrimSpace(s)
	for _, v := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
