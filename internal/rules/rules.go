// Package rules defines the TranslationRule shape shared by the router,
// the transformer, and configuration loading.
package rules

import (
	"fmt"

	"github.com/halyardsys/protogate/internal/protocol"
	"github.com/halyardsys/protogate/internal/security"
)

// TransformKind selects which field-transformation strategy a rule applies.
type TransformKind uint8

const (
	Identity TransformKind = iota
	FieldMap
	Custom
)

// Transform is a rule's transformation spec: Identity needs nothing
// further, FieldMap carries a key->value map of field overrides, and
// Custom names a registered transform module by name.
type Transform struct {
	Kind       TransformKind
	FieldMap   map[string]string // used when Kind == FieldMap
	ModuleName string            // used when Kind == Custom
}

// Rule is a named translation rule: a triple of (source, target, filter)
// plus the transform and security mode to apply when it matches. Target
// is nil for a wildcard rule: one that matches a message regardless of
// which protocol it ends up routed to.
type Rule struct {
	Name   string
	Source protocol.Type
	// Target is nil for a wildcard rule (matches any destination protocol
	// other than Source); non-nil pins the rule to one concrete target.
	Target       *protocol.Type
	Priority     uint8
	Filter       map[string]string
	Transform    Transform
	SecurityMode security.Mode
}

// Validate checks the structural invariants a Rule must satisfy
// independent of any router index: non-empty name, source != target.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rules: rule name must not be empty")
	}
	if !r.Source.Valid() {
		return fmt.Errorf("rules: rule %q has an invalid source protocol", r.Name)
	}
	if r.Target != nil {
		if !r.Target.Valid() {
			return fmt.Errorf("rules: rule %q has an invalid target protocol", r.Name)
		}
		if *r.Target == r.Source {
			return fmt.Errorf("rules: rule %q has source == target (%s); self-translation rules are never constructible", r.Name, r.Source)
		}
	}
	return nil
}
