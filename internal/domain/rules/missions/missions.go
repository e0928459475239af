// Package missions holds the mission progress forecasts.
package missions

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/scoring"
	"github.com/okian/insights/internal/domain/types"
)

// Domain is the domain tag of every rule in this family.
const Domain = "missions"

// Completion bands, in percent of target.
const (
	atRiskBelow        = 50.0
	behindBelow        = 80.0
	overperformAtLeast = 120.0
)

// Descriptors returns the mission family in catalog order.
func Descriptors() []rules.Descriptor {
	return []rules.Descriptor{
		{ID: "M1", Name: "Mission Success Forecast", Trigger: rules.TriggerDaily, Domain: Domain, Evaluator: SuccessForecast},
		{ID: "M2", Name: "Mission Overperformance", Trigger: rules.TriggerOnDemand, Domain: Domain, Evaluator: Overperformance},
	}
}

// Forecast is the linear projection of one running mission.
type Forecast struct {
	Mission     model.Mission
	Submissions int
	// Elapsed is the fraction of the mission window already passed, in (0,1].
	Elapsed    float64
	Projected  int
	Completion float64
}

// Project forecasts missions at now. Missions without a target or that have
// not started yet are skipped.
func Project(missions []model.Mission, counts map[string]int, now time.Time) []Forecast {
	out := make([]Forecast, 0, len(missions))
	for _, m := range missions {
		total := m.EndsAt.Sub(m.StartsAt)
		passed := now.Sub(m.StartsAt)
		if m.TargetSubmissions <= 0 || total <= 0 || passed <= 0 {
			continue
		}
		elapsed := math.Min(float64(passed)/float64(total), 1)
		subs := counts[m.ID]
		projected := int(math.Round(float64(subs) / elapsed))
		out = append(out, Forecast{
			Mission:     m,
			Submissions: subs,
			Elapsed:     elapsed,
			Projected:   projected,
			Completion:  float64(projected) * 100 / float64(m.TargetSubmissions),
		})
	}
	return out
}

// SuccessForecast projects every running mission's completion against its target.
func SuccessForecast(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	forecasts, err := forecast(ctx, ec, opts)
	if err != nil {
		return nil, err
	}

	out := make([]types.InsightItem, 0, len(forecasts))
	for _, f := range forecasts {
		sev := types.SeverityLow
		switch {
		case f.Completion < atRiskBelow:
			sev = types.SeverityHigh
		case f.Completion < behindBelow:
			sev = types.SeverityMedium
		}
		msg := fmt.Sprintf("%s is on pace for %d of %d submissions (%.0f%% of target) with %.0f%% of its window elapsed",
			title(f.Mission), f.Projected, f.Mission.TargetSubmissions, f.Completion, f.Elapsed*100)
		out = append(out, rules.NewItem(types.TypeForecast, Domain, sev, msg,
			rules.Audiences(types.AudienceAdmin, types.AudienceCreator, types.AudienceDirector),
			metadata(f, ec)))
	}
	return out, nil
}

// Overperformance surfaces missions projected well past their target.
func Overperformance(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	forecasts, err := forecast(ctx, ec, opts)
	if err != nil {
		return nil, err
	}

	var out []types.InsightItem
	for _, f := range forecasts {
		if f.Completion < overperformAtLeast {
			continue
		}
		msg := fmt.Sprintf("%s is projected at %.0f%% of target: feature it or raise the target", title(f.Mission), f.Completion)
		out = append(out, rules.NewItem(types.TypeOpportunity, Domain, types.SeverityLow, msg,
			rules.Audiences(types.AudienceCreator, types.AudienceAdmin),
			metadata(f, ec)))
	}
	return out, nil
}

func forecast(ctx context.Context, ec *rules.Context, opts types.Options) ([]Forecast, error) {
	active, err := ec.ActiveMissions(ctx, opts.RegionID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	ids := make([]string, len(active))
	for i, m := range active {
		ids[i] = m.ID
	}
	counts, err := ec.MissionSubmissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	return Project(active, counts, ec.Now), nil
}

func metadata(f Forecast, ec *rules.Context) map[string]any {
	return map[string]any{
		"missionId":            f.Mission.ID,
		"missionTitle":         title(f.Mission),
		"submissions":          f.Submissions,
		"targetSubmissions":    f.Mission.TargetSubmissions,
		"elapsedFraction":      scoring.Round(f.Elapsed, 3),
		"projectedSubmissions": f.Projected,
		"projectedCompletion":  scoring.Round(f.Completion, 1),
		"daysRemaining":        int(math.Ceil(f.Mission.EndsAt.Sub(ec.Now).Hours() / 24)),
	}
}

func title(m model.Mission) string {
	if m.Title != "" {
		return m.Title
	}
	return m.ID
}
