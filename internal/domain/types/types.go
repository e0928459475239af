// Package types contains the insight shapes shared by rules, the engine and the API.
package types

import (
	"time"

	"github.com/okian/insights/internal/domain/model"
)

// InsightType classifies an insight item.
type InsightType string

// Insight types.
const (
	TypeAlert          InsightType = "alert"
	TypeRecommendation InsightType = "recommendation"
	TypeForecast       InsightType = "forecast"
	TypeOpportunity    InsightType = "opportunity"
)

// AllTypes lists the insight types in display order.
var AllTypes = []InsightType{TypeAlert, TypeRecommendation, TypeForecast, TypeOpportunity}

// Valid reports whether t is a known insight type.
func (t InsightType) Valid() bool {
	switch t {
	case TypeAlert, TypeRecommendation, TypeForecast, TypeOpportunity:
		return true
	}
	return false
}

// Severity ranks how urgently an insight needs attention.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Audience is a visibility tag derived from platform roles.
type Audience string

// Audiences.
const (
	AudienceAdmin      Audience = "admin"
	AudienceDirector   Audience = "director"
	AudienceAmbassador Audience = "ambassador"
	AudienceCaptain    Audience = "captain"
	AudienceCreator    Audience = "creator"
	AudienceYouth      Audience = "youth"
)

// roleAudience maps platform roles to audience tags.
var roleAudience = map[string]Audience{
	model.RoleAdmin:            AudienceAdmin,
	model.RoleCouncil:          AudienceAdmin,
	model.RoleRegionalDirector: AudienceDirector,
	model.RoleAmbassador:       AudienceAmbassador,
	model.RoleYouthCaptain:     AudienceCaptain,
	model.RoleCreator:          AudienceCreator,
	model.RoleYouth:            AudienceYouth,
}

// AudienceSet is a set of audience tags.
type AudienceSet map[Audience]struct{}

// AudienceForRoles derives the caller audience from roles. Unknown roles are ignored.
func AudienceForRoles(roles []string) AudienceSet {
	set := make(AudienceSet, len(roles))
	for _, r := range roles {
		if a, ok := roleAudience[r]; ok {
			set[a] = struct{}{}
		}
	}
	return set
}

// Intersects reports whether any of audience is in the set.
func (s AudienceSet) Intersects(audience []Audience) bool {
	for _, a := range audience {
		if _, ok := s[a]; ok {
			return true
		}
	}
	return false
}

// InsightItem is the unit of rule output.
type InsightItem struct {
	Type      InsightType    `json:"type"`
	Domain    string         `json:"domain"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity,omitempty"`
	Audience  []Audience     `json:"audience"`
	Metadata  map[string]any `json:"metadata"`
	RuleID    string         `json:"ruleId"`
	Timestamp time.Time      `json:"timestamp"`
}

// Options scope an evaluation. Roles nil and Roles empty are both "no roles".
type Options struct {
	Domain   string   `json:"domain,omitempty"`
	RegionID string   `json:"regionId,omitempty"`
	UserID   string   `json:"userId,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// GroupedInsights is the response of the all-insights query.
type GroupedInsights struct {
	Alerts          []InsightItem `json:"alerts"`
	Recommendations []InsightItem `json:"recommendations"`
	Forecasts       []InsightItem `json:"forecasts"`
	Opportunities   []InsightItem `json:"opportunities"`
}

// Group splits items by type. Every list is non-nil so it encodes as [].
func Group(items []InsightItem) GroupedInsights {
	g := GroupedInsights{
		Alerts:          []InsightItem{},
		Recommendations: []InsightItem{},
		Forecasts:       []InsightItem{},
		Opportunities:   []InsightItem{},
	}
	for _, it := range items {
		switch it.Type {
		case TypeAlert:
			g.Alerts = append(g.Alerts, it)
		case TypeRecommendation:
			g.Recommendations = append(g.Recommendations, it)
		case TypeForecast:
			g.Forecasts = append(g.Forecasts, it)
		case TypeOpportunity:
			g.Opportunities = append(g.Opportunities, it)
		}
	}
	return g
}

// FilterType keeps items of type t. The result is never nil.
func FilterType(items []InsightItem, t InsightType) []InsightItem {
	out := make([]InsightItem, 0, len(items))
	for _, it := range items {
		if it.Type == t {
			out = append(out, it)
		}
	}
	return out
}
