package escalation

import "time"

// Urgency labels derived from the average level.
const (
	UrgencyCritical = "Critical"
	UrgencyHigh     = "High"
	UrgencyMedium   = "Medium"
	UrgencyLow      = "Low"
)

// Statistics summarizes a set of alarms at a point in time.
type Statistics struct {
	Total        int     `json:"total"`
	Overdue      int     `json:"overdue"`
	Snoozed      int     `json:"snoozed"`
	Escalated    int     `json:"escalated"`
	AverageLevel float64 `json:"average_level"`
	Urgency      string  `json:"urgency"`
}

// ComputeStatistics aggregates alarms as of now. An empty set yields zero
// counts and the Low label.
func ComputeStatistics(alarms []Alarm, now time.Time) Statistics {
	st := Statistics{Total: len(alarms)}
	sum := 0
	for _, a := range alarms {
		if a.IsOverdue(now) {
			st.Overdue++
		}
		if a.IsSnoozed(now) {
			st.Snoozed++
		}
		if a.Level > LevelGentle {
			st.Escalated++
		}
		sum += int(a.Level)
	}
	if st.Total > 0 {
		st.AverageLevel = float64(sum) / float64(st.Total)
	}
	st.Urgency = UrgencyLabel(st.AverageLevel)
	return st
}

// UrgencyLabel maps an average level to a label.
func UrgencyLabel(avg float64) string {
	switch {
	case avg >= 4.0:
		return UrgencyCritical
	case avg >= 3.0:
		return UrgencyHigh
	case avg >= 2.0:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
