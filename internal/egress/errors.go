package egress

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoEgress 所有层级都不可用。
var ErrNoEgress = errors.New("no egress available")

// Attempt 单个层级的尝试结果。
type Attempt struct {
	Tier   Tier
	Reason string
}

// NoEgressError 列出每个尝试过的层级及其失败原因。
type NoEgressError struct {
	Attempts []Attempt
}

func (e *NoEgressError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Tier, a.Reason))
	}
	if len(parts) == 0 {
		return ErrNoEgress.Error() + ": no tiers configured"
	}
	return ErrNoEgress.Error() + ": tried " + strings.Join(parts, ", ")
}

func (e *NoEgressError) Unwrap() error { return ErrNoEgress }

// Tiers 返回尝试过的层级。
func (e *NoEgressError) Tiers() []Tier {
	out := make([]Tier, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Tier)
	}
	return out
}
