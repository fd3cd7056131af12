package apps

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is a capability an app may claim.
type Scope string

const (
	ScopeCalendarRead       Scope = "calendar-read"
	ScopeCalendarWrite      Scope = "calendar-write"
	ScopeMailSend           Scope = "mail-send"
	ScopeTextMessageSend    Scope = "text-message-send"
	ScopeTextMessageRespond Scope = "text-message-respond"
	ScopeAppointmentHook    Scope = "appointment-hook"
	ScopeScheduled          Scope = "scheduled"
	ScopeAssetsStorage      Scope = "assets-storage"
	ScopeScheduleProvider   Scope = "schedule-provider"
)

var knownScopes = map[Scope]struct{}{
	ScopeCalendarRead:       {},
	ScopeCalendarWrite:      {},
	ScopeMailSend:           {},
	ScopeTextMessageSend:    {},
	ScopeTextMessageRespond: {},
	ScopeAppointmentHook:    {},
	ScopeScheduled:          {},
	ScopeAssetsStorage:      {},
	ScopeScheduleProvider:   {},
}

// ParseScope validates a raw scope name.
func ParseScope(raw string) (Scope, error) {
	s := Scope(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownScopes[s]; !ok {
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, raw)
	}
	return s, nil
}

// ParseScopes validates a list of raw scope names, dropping duplicates.
func ParseScopes(raw []string) ([]Scope, error) {
	out := make([]Scope, 0, len(raw))
	seen := make(map[Scope]struct{}, len(raw))
	for _, r := range raw {
		s, err := ParseScope(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// HasScope reports whether scopes contains s.
func HasScope(scopes []Scope, s Scope) bool {
	for _, have := range scopes {
		if have == s {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every scope in want is in allowed.
func SubsetOf(want, allowed []Scope) bool {
	for _, s := range want {
		if !HasScope(allowed, s) {
			return false
		}
	}
	return true
}

func sortedScopes(scopes []Scope) []Scope {
	out := append([]Scope(nil), scopes...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
