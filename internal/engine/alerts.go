package engine

import "fmt"

// AlertThresholds holds the fixed rule thresholds for advisory alerts.
type AlertThresholds struct {
	ConfusedShare    float64 // alert when confused count exceeds this share of students
	BoredShare       float64 // alert when bored count exceeds this share of students
	MinAvgEngagement float64 // alert when class average (0-100) drops below this
}

// DefaultThresholds returns the standard classroom thresholds.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{ConfusedShare: 0.20, BoredShare: 0.30, MinAvgEngagement: 60}
}

// EvaluateAlerts applies the alert rules to a snapshot. totalStudents is the
// session's active student count; shares are computed against it. Pure and
// stateless: repeated identical alerts are not suppressed, callers may
// deduplicate if they need to.
func EvaluateAlerts(snap Snapshot, totalStudents int, t AlertThresholds) []string {
	var alerts []string
	if totalStudents > 0 {
		confused := snap.EmotionDistribution[EmotionConfused]
		if float64(confused)/float64(totalStudents) > t.ConfusedShare {
			alerts = append(alerts, fmt.Sprintf("High confusion: %d of %d students appear confused", confused, totalStudents))
		}
		bored := snap.EmotionDistribution[EmotionBored]
		if float64(bored)/float64(totalStudents) > t.BoredShare {
			alerts = append(alerts, fmt.Sprintf("Signs of boredom: %d of %d students appear bored", bored, totalStudents))
		}
	}
	if snap.TotalEvents > 0 && snap.AvgEngagement < t.MinAvgEngagement {
		alerts = append(alerts, fmt.Sprintf("Low overall engagement: class average %.0f is below %.0f", snap.AvgEngagement, t.MinAvgEngagement))
	}
	return alerts
}
