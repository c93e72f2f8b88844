package memory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/agentgate/core"
)

// Namespace template placeholders resolved per invocation.
const (
	actorPlaceholder   = "{actorId}"
	sessionPlaceholder = "{sessionId}"
)

// TurnsNamespaceTemplate is the reserved namespace raw conversation turns are
// persisted under, keyed the same way the external store keys RecentTurns.
const TurnsNamespaceTemplate = "turns/{actorId}/{sessionId}"

var placeholderPattern = regexp.MustCompile(`\{[^{}]*\}`)

// StrategyConfig binds one extraction strategy to its namespace templates.
// Templates may contain {actorId} and {sessionId} placeholders, resolved at
// read/write time from the invocation's identity coordinates.
type StrategyConfig struct {
	Strategy   core.Strategy
	Namespaces []string
}

// Validate rejects unknown strategies and templates with unknown placeholders.
// An unresolvable template is a fatal configuration error; it must never reach
// a store call.
func (c StrategyConfig) Validate() error {
	switch c.Strategy {
	case core.StrategySemantic, core.StrategySummary, core.StrategyUserPreference, core.StrategyCustom:
	default:
		return fmt.Errorf("unknown memory strategy %q", c.Strategy)
	}

	if len(c.Namespaces) == 0 {
		return fmt.Errorf("strategy %q: at least one namespace template is required", c.Strategy)
	}

	for _, tmpl := range c.Namespaces {
		if strings.TrimSpace(tmpl) == "" {
			return fmt.Errorf("strategy %q: empty namespace template", c.Strategy)
		}
		for _, ph := range placeholderPattern.FindAllString(tmpl, -1) {
			if ph != actorPlaceholder && ph != sessionPlaceholder {
				return fmt.Errorf("strategy %q: namespace template %q contains unknown placeholder %s", c.Strategy, tmpl, ph)
			}
		}
	}

	return nil
}

// ResolveNamespace substitutes the identity placeholders in tmpl. Any residual
// placeholder after substitution is a configuration error.
func ResolveNamespace(tmpl, actorID, sessionID string) (string, error) {
	ns := strings.ReplaceAll(tmpl, actorPlaceholder, actorID)
	ns = strings.ReplaceAll(ns, sessionPlaceholder, sessionID)

	if ph := placeholderPattern.FindString(ns); ph != "" {
		return "", fmt.Errorf("namespace template %q: unresolved placeholder %s", tmpl, ph)
	}

	return ns, nil
}
