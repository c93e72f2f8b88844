package gateway

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentgate/core"
)

// Separator joins the target name and tool name in a fully-qualified tool-call
// name. Exactly three underscores; deployed gateway configurations encode
// target identity this way, so the convention must be preserved byte for byte.
const Separator = "___"

// TransportKind selects how a target is reached.
type TransportKind string

const (
	// TransportProtocol is a persistent MCP channel to a remote tool server.
	TransportProtocol TransportKind = "protocol"
	// TransportInvoke is a single-shot call to a function backend.
	TransportInvoke TransportKind = "invoke"
)

// AuthMode selects the credential scheme used for a target.
type AuthMode string

const (
	// AuthBearerForwarding forwards the invocation's bearer token unchanged.
	AuthBearerForwarding AuthMode = "bearer-forwarding"
	// AuthServiceIdentity signs calls with the target's own service identity.
	AuthServiceIdentity AuthMode = "service-identity"
)

// Target describes one named backend reachable through the gateway.
type Target struct {
	// Name is the logical target identifier, the prefix segment of a
	// fully-qualified tool name.
	Name string
	// Transport selects protocol or invoke delivery.
	Transport TransportKind
	// Endpoint is a URL for protocol targets and a function identifier (name
	// or ARN) for invoke targets.
	Endpoint string
	// AuthMode defaults per transport: bearer forwarding for protocol,
	// service identity for invoke.
	AuthMode AuthMode
}

// Validate checks structural correctness and applies the per-transport
// default auth mode.
func (t *Target) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name is required")
	}
	if strings.Contains(t.Name, Separator) {
		return fmt.Errorf("target name %q must not contain the separator %q", t.Name, Separator)
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return fmt.Errorf("target %q: endpoint is required", t.Name)
	}

	switch t.Transport {
	case TransportProtocol:
		if t.AuthMode == "" {
			t.AuthMode = AuthBearerForwarding
		}
		if t.AuthMode != AuthBearerForwarding {
			return fmt.Errorf("target %q: protocol transport requires bearer forwarding", t.Name)
		}
	case TransportInvoke:
		if t.AuthMode == "" {
			t.AuthMode = AuthServiceIdentity
		}
		if t.AuthMode != AuthServiceIdentity {
			return fmt.Errorf("target %q: invoke transport requires service identity auth", t.Name)
		}
	default:
		return fmt.Errorf("target %q: unknown transport %q", t.Name, t.Transport)
	}

	return nil
}

// QualifiedName returns the fully-qualified name presented to the model for a
// tool exposed by this target.
func (t Target) QualifiedName(toolName string) string {
	return t.Name + Separator + toolName
}

// SplitToolName splits a fully-qualified tool-call name into its target and
// tool segments. A missing separator or empty segment is a RoutingError.
func SplitToolName(fqName string) (targetName, toolName string, err error) {
	targetName, toolName, found := strings.Cut(fqName, Separator)
	if !found {
		return "", "", &core.RoutingError{Name: fqName, Reason: "missing target separator"}
	}
	if targetName == "" || toolName == "" {
		return "", "", &core.RoutingError{Name: fqName, Reason: "empty target or tool segment"}
	}
	return targetName, toolName, nil
}

// Registry is the gateway's ordered set of targets. It is constructed once per
// agent process and treated as immutable thereafter; With and Without return
// modified copies so in-flight dispatches never observe a partial update.
type Registry struct {
	targets map[string]Target
	order   []string
}

// NewRegistry validates and indexes the given targets, preserving declaration
// order. Duplicate names are rejected.
func NewRegistry(targets ...Target) (*Registry, error) {
	r := &Registry{targets: make(map[string]Target, len(targets))}

	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.targets[t.Name]; exists {
			return nil, fmt.Errorf("duplicate target name %q", t.Name)
		}
		r.targets[t.Name] = t
		r.order = append(r.order, t.Name)
	}

	return r, nil
}

// Lookup resolves a target by name.
func (r *Registry) Lookup(name string) (Target, bool) {
	t, ok := r.targets[name]
	return t, ok
}

// Names returns the target names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered targets.
func (r *Registry) Len() int { return len(r.order) }

// With returns a copy of the registry including t (copy-on-write).
func (r *Registry) With(t Target) (*Registry, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if _, exists := r.targets[t.Name]; exists {
		return nil, fmt.Errorf("duplicate target name %q", t.Name)
	}

	nr := r.clone()
	nr.targets[t.Name] = t
	nr.order = append(nr.order, t.Name)

	return nr, nil
}

// Without returns a copy of the registry excluding the named target. Removing
// an unknown name is a no-op copy.
func (r *Registry) Without(name string) *Registry {
	nr := &Registry{targets: make(map[string]Target, len(r.targets))}
	for _, n := range r.order {
		if n == name {
			continue
		}
		nr.targets[n] = r.targets[n]
		nr.order = append(nr.order, n)
	}
	return nr
}

func (r *Registry) clone() *Registry {
	nr := &Registry{
		targets: make(map[string]Target, len(r.targets)),
		order:   make([]string, len(r.order)),
	}
	for k, v := range r.targets {
		nr.targets[k] = v
	}
	copy(nr.order, r.order)
	return nr
}
