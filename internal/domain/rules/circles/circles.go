// Package circles holds the circle health, attendance and growth rules.
package circles

import (
	"context"
	"fmt"

	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/scoring"
	"github.com/okian/insights/internal/domain/types"
)

// Domain is the domain tag of every rule in this family.
const Domain = "circles"

// Rule thresholds.
const (
	// attendanceDropPercent fires C2 on a drop strictly above 20 points.
	attendanceDropPercent = 20

	// Growth bands for C3 expressed as 1/n of the current size.
	strongGrowthDivisor = 5  // rate >= 0.20
	steadyGrowthDivisor = 10 // rate >= 0.10

	captainSupportBelow = 50

	cohesionAttendanceAbove = 70.0
	cohesionMissionsBelow   = 30.0

	splitMembersAbove = 20

	spotlightMinSessions = 4
	spotlightScoreAbove  = 90
)

// Descriptors returns the circle family in catalog order.
func Descriptors() []rules.Descriptor {
	return []rules.Descriptor{
		{ID: "C1", Name: "Circle Health Score", Trigger: rules.TriggerDaily, Domain: Domain, Evaluator: HealthScore},
		{ID: "C2", Name: "Attendance Drop Alert", Trigger: rules.TriggerDaily, Domain: Domain, Evaluator: AttendanceDrop},
		{ID: "C3", Name: "Circle Growth Forecast", Trigger: rules.TriggerWeekly, Domain: Domain, Evaluator: GrowthForecast},
		{ID: "C4", Name: "Captain Support Needed", Trigger: rules.TriggerWeekly, Domain: Domain, Evaluator: CaptainSupport},
		{ID: "C5", Name: "Cohesion Signal", Trigger: rules.TriggerWeekly, Domain: Domain, Evaluator: CohesionSignal},
		{ID: "C6", Name: "Split Recommendation", Trigger: rules.TriggerWeekly, Domain: Domain, Evaluator: SplitRecommendation},
		{ID: "C7", Name: "Circle Spotlight", Trigger: rules.TriggerWeekly, Domain: Domain, Evaluator: Spotlight},
	}
}

// HealthScore reports the health composite of every scorable circle.
func HealthScore(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	return eachHealthy(ctx, ec, opts, func(c model.Circle, h scoring.Health) (types.InsightItem, bool) {
		msg := fmt.Sprintf("%s health score is %d/100 (attendance %.0f%%, mission completion %.0f%%, consistency %.0f%%)",
			circleName(c), h.Score, h.AttendanceRate, h.MissionCompletionRate, h.SessionConsistency)
		return rules.NewItem(types.TypeRecommendation, Domain, scoring.SeverityFor(h.Score), msg,
			rules.Audiences(types.AudienceAdmin, types.AudienceDirector, types.AudienceCaptain),
			healthMetadata(c, h)), true
	})
}

// AttendanceDrop alerts when attendance fell sharply between the two most
// recent sessions.
func AttendanceDrop(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	circles, err := ec.Circles(ctx, opts.RegionID)
	if err != nil {
		return nil, err
	}

	var out []types.InsightItem
	for _, c := range circles {
		members := len(c.Members)
		if members == 0 || len(c.Sessions) < 2 {
			continue
		}
		latest, previous := c.Sessions[0], c.Sessions[1]
		latestPresent, previousPresent := latest.PresentCount(), previous.PresentCount()

		dropped := previousPresent - latestPresent
		if dropped*100 <= attendanceDropPercent*members {
			continue
		}

		latestAvg := float64(latestPresent) / float64(members)
		previousAvg := float64(previousPresent) / float64(members)
		drop := float64(dropped) / float64(members)
		pct := int(scoring.Round(drop*100, 0))

		msg := fmt.Sprintf("%s attendance dropped %d%% since the previous session (%d of %d present, down from %d)",
			circleName(c), pct, latestPresent, members, previousPresent)
		out = append(out, rules.NewItem(types.TypeAlert, Domain, types.SeverityHigh, msg,
			rules.Audiences(types.AudienceDirector, types.AudienceCaptain, types.AudienceAmbassador),
			map[string]any{
				"circleId":          c.ID,
				"circleName":        circleName(c),
				"latestSessionId":   latest.ID,
				"previousSessionId": previous.ID,
				"latestAverage":     scoring.Round(latestAvg, 3),
				"previousAverage":   scoring.Round(previousAvg, 3),
				"drop":              scoring.Round(drop, 3),
				"dropPercentage":    pct,
			}))
	}
	return out, nil
}

// GrowthForecast projects membership from joins inside the window.
func GrowthForecast(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	circles, err := ec.Circles(ctx, opts.RegionID)
	if err != nil {
		return nil, err
	}
	since := ec.WindowStart()

	var out []types.InsightItem
	for _, c := range circles {
		total := len(c.Members)
		if total == 0 {
			continue
		}
		joined := 0
		for _, m := range c.Members {
			if !m.JoinedAt.Before(since) && !m.JoinedAt.After(ec.Now) {
				joined++
			}
		}
		rate := float64(joined) / float64(total)
		forecast := int(scoring.Round(rate*float64(total), 0))
		projected := total + forecast

		var (
			kind types.InsightType
			sev  types.Severity
			msg  string
		)
		switch {
		case joined*strongGrowthDivisor >= total:
			kind, sev = types.TypeOpportunity, types.SeverityLow
			msg = fmt.Sprintf("%s is growing fast: %d new members (%.0f%%), projected to reach %d", circleName(c), joined, rate*100, projected)
		case joined*steadyGrowthDivisor >= total:
			kind, sev = types.TypeRecommendation, types.SeverityLow
			msg = fmt.Sprintf("%s is growing steadily: %d new members (%.0f%%), projected to reach %d", circleName(c), joined, rate*100, projected)
		case joined > 0:
			kind, sev = types.TypeRecommendation, types.SeverityMedium
			msg = fmt.Sprintf("%s growth is slow: %d new members (%.0f%%), consider a recruitment push", circleName(c), joined, rate*100)
		default:
			kind, sev = types.TypeAlert, types.SeverityHigh
			msg = fmt.Sprintf("%s is stagnant: no new members in the last %d days", circleName(c), int(ec.Lookback.Hours()/24))
		}

		out = append(out, rules.NewItem(kind, Domain, sev, msg,
			rules.Audiences(types.AudienceAdmin, types.AudienceDirector),
			map[string]any{
				"circleId":       c.ID,
				"circleName":     circleName(c),
				"newMembers":     joined,
				"totalMembers":   total,
				"growthRate":     scoring.Round(rate, 3),
				"forecast":       forecast,
				"projectedTotal": projected,
			}))
	}
	return out, nil
}

// CaptainSupport flags captains of low-health circles to directors.
func CaptainSupport(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	return eachHealthy(ctx, ec, opts, func(c model.Circle, h scoring.Health) (types.InsightItem, bool) {
		if h.Score >= captainSupportBelow {
			return types.InsightItem{}, false
		}
		msg := fmt.Sprintf("%s, captain of %s, may need support: health score is %d/100",
			c.Captain.DisplayName(), circleName(c), h.Score)
		meta := healthMetadata(c, h)
		meta["captainId"] = c.Captain.ID
		meta["captainName"] = c.Captain.DisplayName()
		return rules.NewItem(types.TypeRecommendation, Domain, types.SeverityHigh, msg,
			rules.Audiences(types.AudienceDirector), meta), true
	})
}

// CohesionSignal flags circles that show up but do not follow through on missions.
func CohesionSignal(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	return eachHealthy(ctx, ec, opts, func(c model.Circle, h scoring.Health) (types.InsightItem, bool) {
		if h.AttendanceRate <= cohesionAttendanceAbove || h.MissionCompletionRate >= cohesionMissionsBelow {
			return types.InsightItem{}, false
		}
		msg := fmt.Sprintf("%s has strong attendance (%.0f%%) but low mission completion (%.0f%%): turn sessions into mission work",
			circleName(c), h.AttendanceRate, h.MissionCompletionRate)
		return rules.NewItem(types.TypeRecommendation, Domain, types.SeverityMedium, msg,
			rules.Audiences(types.AudienceDirector, types.AudienceCaptain), healthMetadata(c, h)), true
	})
}

// SplitRecommendation suggests splitting oversized circles.
func SplitRecommendation(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	circles, err := ec.Circles(ctx, opts.RegionID)
	if err != nil {
		return nil, err
	}

	var out []types.InsightItem
	for _, c := range circles {
		n := len(c.Members)
		if n <= splitMembersAbove {
			continue
		}
		msg := fmt.Sprintf("%s has %d members; consider splitting it into two circles", circleName(c), n)
		out = append(out, rules.NewItem(types.TypeRecommendation, Domain, types.SeverityMedium, msg,
			rules.Audiences(types.AudienceAdmin, types.AudienceDirector),
			map[string]any{
				"circleId":    c.ID,
				"circleName":  circleName(c),
				"memberCount": n,
				"threshold":   splitMembersAbove,
			}))
	}
	return out, nil
}

// Spotlight surfaces consistently excellent circles.
func Spotlight(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	return eachHealthy(ctx, ec, opts, func(c model.Circle, h scoring.Health) (types.InsightItem, bool) {
		if h.Sessions < spotlightMinSessions || h.Score <= spotlightScoreAbove {
			return types.InsightItem{}, false
		}
		msg := fmt.Sprintf("%s is thriving with a health score of %d/100: a good candidate to spotlight", circleName(c), h.Score)
		return rules.NewItem(types.TypeOpportunity, Domain, types.SeverityLow, msg,
			rules.Audiences(types.AudienceAdmin, types.AudienceDirector, types.AudienceAmbassador),
			healthMetadata(c, h)), true
	})
}

// eachHealthy calls emit for every circle with a defined health score.
func eachHealthy(
	ctx context.Context,
	ec *rules.Context,
	opts types.Options,
	emit func(model.Circle, scoring.Health) (types.InsightItem, bool),
) ([]types.InsightItem, error) {
	circles, err := ec.Circles(ctx, opts.RegionID)
	if err != nil {
		return nil, err
	}

	var out []types.InsightItem
	for _, c := range circles {
		h, ok, err := ec.Health(ctx, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if item, keep := emit(c, h); keep {
			out = append(out, item)
		}
	}
	return out, nil
}

func healthMetadata(c model.Circle, h scoring.Health) map[string]any {
	return map[string]any{
		"circleId":              c.ID,
		"circleName":            circleName(c),
		"healthScore":           h.Score,
		"attendanceRate":        scoring.Round(h.AttendanceRate, 1),
		"missionCompletionRate": scoring.Round(h.MissionCompletionRate, 1),
		"sessionConsistency":    scoring.Round(h.SessionConsistency, 1),
		"memberCount":           h.Members,
		"sessionCount":          h.Sessions,
	}
}

func circleName(c model.Circle) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
