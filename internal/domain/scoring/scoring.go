// Package scoring computes the circle health composite shared by several rules.
package scoring

import (
	"math"

	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/types"
)

// Health score weights and thresholds.
const (
	attendanceWeight  = 0.4
	missionWeight     = 0.4
	consistencyWeight = 0.2

	// weeksPerWindow converts a 30-day session count to sessions per week.
	weeksPerWindow = 4.0
	// consistencyPerWeeklySession scores one session per week as 25 points.
	consistencyPerWeeklySession = 25.0

	maxRate = 100.0

	HighSeverityBelow   = 50
	MediumSeverityBelow = 70
)

// Input carries the raw counts behind a health score.
type Input struct {
	Members     int
	Sessions    int
	Present     int
	Submissions int
}

// Health is the computed composite. Rates are percentages in [0,100].
type Health struct {
	Members               int
	Sessions              int
	AttendanceRate        float64
	MissionCompletionRate float64
	SessionConsistency    float64
	Score                 int
}

// Compute returns the health composite. ok is false when the circle has no
// members or no sessions: the score is undefined there, not zero.
func Compute(in Input) (h Health, ok bool) {
	if in.Members <= 0 || in.Sessions <= 0 {
		return Health{}, false
	}

	attendance := clampRate(float64(in.Present) / float64(in.Sessions*in.Members) * maxRate)
	missions := clampRate(float64(in.Submissions) / float64(in.Members) * maxRate)
	sessionsPerWeek := float64(in.Sessions) / weeksPerWindow
	consistency := math.Min(sessionsPerWeek*consistencyPerWeeklySession, maxRate)

	score := math.Round(attendanceWeight*attendance + missionWeight*missions + consistencyWeight*consistency)

	return Health{
		Members:               in.Members,
		Sessions:              in.Sessions,
		AttendanceRate:        attendance,
		MissionCompletionRate: missions,
		SessionConsistency:    consistency,
		Score:                 int(score),
	}, true
}

// InputFor collects the counts for a circle whose sessions are already
// trimmed to the window.
func InputFor(c model.Circle, submissions int) Input {
	present := 0
	for _, s := range c.Sessions {
		present += s.PresentCount()
	}
	return Input{
		Members:     len(c.Members),
		Sessions:    len(c.Sessions),
		Present:     present,
		Submissions: submissions,
	}
}

// SeverityFor maps a health score to a severity.
func SeverityFor(score int) types.Severity {
	switch {
	case score < HighSeverityBelow:
		return types.SeverityHigh
	case score < MediumSeverityBelow:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// Round rounds v to places decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clampRate(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > maxRate:
		return maxRate
	default:
		return v
	}
}
