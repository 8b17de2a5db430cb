// Package transformer applies a matched translation rule's Transform to
// a normalized Common message, producing the message that gets secured
// and re-encoded onto the destination protocol.
package transformer

import (
	"fmt"

	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/rules"
)

// Func is a registered custom transform module: given the inbound
// message and the rule that selected it, return the transformed
// message.
type Func func(message.Common, rules.Rule) (message.Common, error)

// Registry holds the custom transform modules available to
// rules.Custom transforms, keyed by the name named in the rule.
type Registry struct {
	modules map[string]Func
}

// NewRegistry builds an empty Registry. Call Register to populate it
// before any Transform call referencing a rules.Custom rule.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Func)}
}

// Register adds or replaces the named custom transform module.
func (r *Registry) Register(name string, fn Func) {
	r.modules[name] = fn
}

// Transform applies rule's transform to msg, then fills in the
// destination protocol: the rule's pinned target if it has one,
// otherwise the message's own target hint, otherwise the source
// protocol's opposite.
func (r *Registry) Transform(msg message.Common, rule rules.Rule) (message.Common, error) {
	out := msg.Clone()

	switch rule.Transform.Kind {
	case rules.Identity:
		// no field changes.
	case rules.FieldMap:
		if v, ok := rule.Transform.FieldMap["priority"]; ok {
			p, err := parsePriority(v)
			if err != nil {
				return message.Common{}, err
			}
			out.Priority = p
		}
	case rules.Custom:
		fn, ok := r.modules[rule.Transform.ModuleName]
		if !ok {
			return message.Common{}, fmt.Errorf("%w: %q", gwerrors.ErrNoTransform, rule.Transform.ModuleName)
		}
		transformed, err := fn(out, rule)
		if err != nil {
			return message.Common{}, err
		}
		out = transformed
	default:
		return message.Common{}, fmt.Errorf("%w: unrecognized transform kind %d", gwerrors.ErrNoTransform, rule.Transform.Kind)
	}

	target := rule.Target
	if target == nil {
		target = out.TargetProtocol
	}
	if target == nil {
		opp := out.SourceProtocol.Opposite()
		target = &opp
	}
	out.TargetProtocol = target
	return out, nil
}

func parsePriority(s string) (uint8, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("%w: invalid priority field value %q", gwerrors.ErrNoTransform, s)
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: priority field value %q out of range", gwerrors.ErrNoTransform, s)
	}
	return uint8(n), nil
}
