package rules

import "github.com/okian/insights/internal/domain/types"

// Audiences returns a fresh audience slice so items never share backing arrays.
func Audiences(a ...types.Audience) []types.Audience {
	return append([]types.Audience(nil), a...)
}

// NewItem builds an insight item. RuleID and Timestamp stay empty; the
// service fills them from the owning rule and the evaluation time.
func NewItem(t types.InsightType, domain string, sev types.Severity, msg string, audience []types.Audience, meta map[string]any) types.InsightItem {
	if meta == nil {
		meta = map[string]any{}
	}
	return types.InsightItem{
		Type:     t,
		Domain:   domain,
		Message:  msg,
		Severity: sev,
		Audience: Audiences(audience...),
		Metadata: meta,
	}
}
