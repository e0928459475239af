// Package youth holds the per-member engagement rules.
package youth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/insights/internal/domain/model"
	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/types"
)

// Domain is the domain tag of every rule in this family.
const Domain = "youth"

const (
	recentSessions = 3
	// Members younger than this are not expected to have submitted yet.
	submissionGrace = 14 * 24 * time.Hour

	risingMinSessions    = 3
	risingMinSubmissions = 2
)

// Reasons a member is at risk.
const (
	ReasonMissedSessions = "missed_sessions"
	ReasonNoSubmissions  = "no_submissions"
)

// Descriptors returns the youth family in catalog order.
func Descriptors() []rules.Descriptor {
	return []rules.Descriptor{
		{ID: "Y1", Name: "At-Risk Youth", Trigger: rules.TriggerDaily, Domain: Domain, Evaluator: AtRisk},
		{ID: "Y2", Name: "Rising Youth", Trigger: rules.TriggerWeekly, Domain: Domain, Evaluator: Rising},
	}
}

// AtRisk alerts on members who stopped attending or never submitted in the window.
func AtRisk(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	return eachMember(ctx, ec, opts, func(c model.Circle, m model.Member, sessions []model.Session, submissions int) (types.InsightItem, bool) {
		var reasons []string

		missed := 0
		if len(sessions) >= recentSessions {
			for _, s := range sessions[:recentSessions] {
				if !attended(s, m.ID) {
					missed++
				}
			}
			if missed == recentSessions {
				reasons = append(reasons, ReasonMissedSessions)
			}
		}
		if submissions == 0 && m.JoinedAt.Before(ec.Now.Add(-submissionGrace)) {
			reasons = append(reasons, ReasonNoSubmissions)
		}
		if len(reasons) == 0 {
			return types.InsightItem{}, false
		}

		sev := types.SeverityMedium
		if len(reasons) > 1 {
			sev = types.SeverityHigh
		}
		var why []string
		for _, r := range reasons {
			switch r {
			case ReasonMissedSessions:
				why = append(why, fmt.Sprintf("missed the last %d sessions", recentSessions))
			case ReasonNoSubmissions:
				why = append(why, fmt.Sprintf("has no mission submissions in %d days", days(ec.Lookback)))
			}
		}
		msg := fmt.Sprintf("%s in %s %s", m.DisplayName(), circleName(c), strings.Join(why, " and "))
		return rules.NewItem(types.TypeAlert, Domain, sev, msg,
			rules.Audiences(types.AudienceCaptain, types.AudienceDirector, types.AudienceAmbassador),
			map[string]any{
				"userId":         m.ID,
				"userName":       m.DisplayName(),
				"circleId":       c.ID,
				"circleName":     circleName(c),
				"missedSessions": missed,
				"submissions":    submissions,
				"reasons":        reasons,
			}), true
	})
}

// Rising surfaces members with perfect attendance who also submit work.
func Rising(ctx context.Context, ec *rules.Context, opts types.Options) ([]types.InsightItem, error) {
	return eachMember(ctx, ec, opts, func(c model.Circle, m model.Member, sessions []model.Session, submissions int) (types.InsightItem, bool) {
		if len(sessions) < risingMinSessions || submissions < risingMinSubmissions {
			return types.InsightItem{}, false
		}
		for _, s := range sessions {
			if !attended(s, m.ID) {
				return types.InsightItem{}, false
			}
		}
		msg := fmt.Sprintf("%s in %s attended all %d sessions and submitted %d missions: a candidate for a creator or captain track",
			m.DisplayName(), circleName(c), len(sessions), submissions)
		return rules.NewItem(types.TypeOpportunity, Domain, types.SeverityLow, msg,
			rules.Audiences(types.AudienceCaptain, types.AudienceCreator),
			map[string]any{
				"userId":      m.ID,
				"userName":    m.DisplayName(),
				"circleId":    c.ID,
				"circleName":  circleName(c),
				"sessions":    len(sessions),
				"submissions": submissions,
			}), true
	})
}

type memberCheck func(c model.Circle, m model.Member, sessions []model.Session, submissions int) (types.InsightItem, bool)

// eachMember runs check for every member holding the YOUTH role, with the
// in-window sessions held since the member joined, newest first.
func eachMember(ctx context.Context, ec *rules.Context, opts types.Options, check memberCheck) ([]types.InsightItem, error) {
	circles, err := ec.Circles(ctx, opts.RegionID)
	if err != nil {
		return nil, err
	}

	var out []types.InsightItem
	for _, c := range circles {
		if len(c.Members) == 0 {
			continue
		}
		youth, err := ec.Youth(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(youth) == 0 {
			continue
		}
		counts, err := ec.SubmissionsByMember(ctx, c)
		if err != nil {
			return nil, err
		}
		for _, m := range c.Members {
			if !youth[m.ID] {
				continue
			}
			if item, ok := check(c, m, sessionsSince(c.Sessions, m.JoinedAt), counts[m.ID]); ok {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func sessionsSince(sessions []model.Session, joined time.Time) []model.Session {
	out := make([]model.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.ScheduledAt.Before(joined) {
			out = append(out, s)
		}
	}
	return out
}

func attended(s model.Session, userID string) bool {
	for _, a := range s.Attendance {
		if a.UserID == userID {
			return a.Status == model.StatusPresent
		}
	}
	return false
}

func days(d time.Duration) int {
	return int(d.Hours() / 24)
}

func circleName(c model.Circle) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
