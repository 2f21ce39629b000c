package pms

import (
	"sort"
	"strings"
)

// SchemeFromAppointments classifies a patient's funding scheme from their
// appointment history: the most recent appointment whose type name contains
// one of the clinic's configured tags decides. Patients with no tagged
// appointments are Unknown.
func SchemeFromAppointments(appts []RemoteAppointment, epcTag, wcTag string) Scheme {
	sorted := make([]RemoteAppointment, len(appts))
	copy(sorted, appts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartsAt.After(sorted[j].StartsAt)
	})

	for _, a := range sorted {
		if s := MatchSchemeTag(a.AppointmentType, epcTag, wcTag); s != SchemeUnknown {
			return s
		}
	}
	return SchemeUnknown
}

// MatchSchemeTag matches one appointment type name against the clinic's
// scheme tags, case-insensitively. Empty tags never match.
func MatchSchemeTag(appointmentType, epcTag, wcTag string) Scheme {
	t := strings.ToLower(appointmentType)
	if epcTag != "" && strings.Contains(t, strings.ToLower(epcTag)) {
		return SchemeEPC
	}
	if wcTag != "" && strings.Contains(t, strings.ToLower(wcTag)) {
		return SchemeWC
	}
	return SchemeUnknown
}
