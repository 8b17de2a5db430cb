// Package router selects, for a normalized Common message, the single
// translation rule that governs how it is transformed and secured before
// being re-encoded onto its destination protocol.
package router

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/protocol"
	"github.com/halyardsys/protogate/internal/rules"
)

// key indexes rules with a pinned target by their source and target
// protocol; matched is always true for indexed keys. Wildcard rules
// (Target == nil) are not filed under a key: they live in Router.wild,
// keyed by source alone, and are consulted for every target once the
// exact-match bucket has been exhausted.
type key struct {
	source  protocol.Type
	target  protocol.Type
	matched bool
}

// Router holds a priority-ordered index over a rule set and resolves the
// single matching rule for each inbound message.
type Router struct {
	mu    sync.RWMutex
	rules []rules.Rule
	exact map[key][]*rules.Rule
	wild  map[protocol.Type][]*rules.Rule
}

// New builds a Router over an initial rule set. Rules are copied; later
// mutation of the caller's slice has no effect on the Router.
func New(initial []rules.Rule) (*Router, error) {
	r := &Router{}
	for _, rule := range initial {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	r.rules = append([]rules.Rule(nil), initial...)
	r.rebuild()
	return r, nil
}

// rebuild recomputes the exact/wildcard indexes from r.rules. Callers
// must hold mu for writing.
func (r *Router) rebuild() {
	exact := make(map[key][]*rules.Rule)
	wild := make(map[protocol.Type][]*rules.Rule)
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Target != nil {
			k := key{source: rule.Source, target: *rule.Target, matched: true}
			exact[k] = append(exact[k], rule)
		} else {
			wild[rule.Source] = append(wild[rule.Source], rule)
		}
	}
	for k := range exact {
		sortByPriority(exact[k])
	}
	for k := range wild {
		sortByPriority(wild[k])
	}
	r.exact = exact
	r.wild = wild
}

// sortByPriority orders a rule bucket ascending by Priority, stable so
// equal-priority rules keep their add order as the tie-break.
func sortByPriority(rs []*rules.Rule) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Priority < rs[j].Priority })
}

// AddRule appends rule to the rule set and rebuilds the index.
func (r *Router) AddRule(rule rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	r.rebuild()
	return nil
}

// RemoveRule deletes the named rule and rebuilds the index. It is a
// no-op, returning no error, if no rule by that name exists.
func (r *Router) RemoveRule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.rules[:0]
	for _, rule := range r.rules {
		if rule.Name != name {
			out = append(out, rule)
		}
	}
	r.rules = out
	r.rebuild()
}

// FindRule resolves the single rule governing msg, per the algorithm:
// reject self-translation outright, then search the exact (source,
// target) bucket if msg names a target, falling back to the source's
// wildcard bucket, and within each bucket take the lowest-priority rule
// whose filter matches msg.
func (r *Router) FindRule(msg message.Common) (*rules.Rule, error) {
	if msg.TargetProtocol != nil && *msg.TargetProtocol == msg.SourceProtocol {
		return nil, fmt.Errorf("%w: message source and target protocol are both %s", gwerrors.ErrInvalidRoute, msg.SourceProtocol)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if msg.TargetProtocol != nil {
		k := key{source: msg.SourceProtocol, target: *msg.TargetProtocol, matched: true}
		if rule := firstMatch(r.exact[k], msg); rule != nil {
			return rule, nil
		}
	}
	if rule := firstMatch(r.wild[msg.SourceProtocol], msg); rule != nil {
		return rule, nil
	}
	return nil, fmt.Errorf("%w: no translation rule for source=%s", gwerrors.ErrNoRoute, msg.SourceProtocol)
}

// firstMatch returns the first (lowest priority) rule in a
// priority-sorted bucket whose filter matches msg, or nil.
func firstMatch(bucket []*rules.Rule, msg message.Common) *rules.Rule {
	for _, rule := range bucket {
		if filterMatches(rule.Filter, msg) {
			return rule
		}
	}
	return nil
}

// filterMatches evaluates a rule's filter predicate against msg. Every
// key present in filter must match; keys the filter doesn't mention are
// unconstrained. An empty or nil filter matches everything.
func filterMatches(filter map[string]string, msg message.Common) bool {
	for k, want := range filter {
		switch k {
		case "source_address":
			if msg.Metadata.SourceAddress != want {
				return false
			}
		case "destination_address":
			if msg.Metadata.DestinationAddress != want {
				return false
			}
		case "priority":
			n, err := strconv.Atoi(want)
			if err != nil || uint8(n) != msg.Priority {
				return false
			}
		case "is_command":
			if strconv.FormatBool(msg.Metadata.IsCommand) != want {
				return false
			}
		case "requires_response":
			if strconv.FormatBool(msg.Metadata.RequiresResponse) != want {
				return false
			}
		default:
			// Unrecognized filter keys are ignored rather than rejected, so
			// configuration stays forward-compatible with newer rule shapes.
		}
	}
	return true
}

// Summary is a introspection-only snapshot of one indexed rule.
type Summary struct {
	Name     string
	Source   protocol.Type
	Target   *protocol.Type
	Priority uint8
}

// Snapshot returns a priority-ordered, read-only view of every rule
// currently indexed. It exists for admin/observability surfaces and is
// never consulted by FindRule itself.
func (r *Router) Snapshot() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, len(r.rules))
	for i, rule := range r.rules {
		var target *protocol.Type
		if rule.Target != nil {
			t := *rule.Target
			target = &t
		}
		out[i] = Summary{Name: rule.Name, Source: rule.Source, Target: target, Priority: rule.Priority}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
