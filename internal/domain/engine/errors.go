package engine

import "errors"

// Sentinel kinds for direct rule runs.
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleTimeout  = errors.New("rule timed out")
	ErrRulePanic    = errors.New("rule panicked")
)
