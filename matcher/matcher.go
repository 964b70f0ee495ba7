// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matcher finds occurrences of patterns (see package pattern) in the regions of a module, and
// replaces each accepted occurrence by a fused call, using package outline.
//
// A run has two phases. First every pattern, in priority order, is tried on every candidate instruction
// (the region root, or every instruction in post-order), and the successful bindings are collected.
// Then the matches are arbitrated in the same order: a match is applied only if it still holds after
// the earlier ones were outlined, and if its sharding, in-place and ordering constraints are satisfied.
//
// Rejected candidates are never errors: a run that applies nothing returns false.
package matcher

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/outline"
	"github.com/gomlx/outliner/pattern"
	"github.com/gomlx/outliner/predicates"
	"github.com/gomlx/outliner/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handler replaces an accepted match. It is given the match and the outline.Request that the default
// handler would use, and returns the outline.Result of the replacement, or nil to decline the match.
//
// A Handler that declines must leave the graph unchanged. Errors abort the run.
type Handler interface {
	HandleMatch(match *Match, req outline.Request) (*outline.Result, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(match *Match, req outline.Request) (*outline.Result, error)

// HandleMatch implements Handler.
func (fn HandlerFunc) HandleMatch(match *Match, req outline.Request) (*outline.Result, error) {
	return fn(match, req)
}

// DefaultHandler outlines the match as requested.
var DefaultHandler Handler = HandlerFunc(func(_ *Match, req outline.Request) (*outline.Result, error) {
	return outline.Outline(req)
})

// Matcher applies a set of patterns, see package documentation.
type Matcher struct {
	patterns     []*pattern.Pattern
	opts         Options
	ann          *annotations.Annotations
	handler      Handler
	regionPrefix string
}

// New creates a Matcher for the patterns, given in priority order.
//
// If ann is nil, empty annotations are created. They are updated with the outlined regions and the
// calls with in-place inputs, and used to reject matches that would write to a value already mutated
// in place.
func New(patterns []*pattern.Pattern, opts Options, ann *annotations.Annotations) *Matcher {
	if ann == nil {
		ann = annotations.New()
	}
	return &Matcher{
		patterns: slices.Clone(patterns),
		opts:     opts,
		ann:      ann,
		handler:  DefaultHandler,
	}
}

// WithHandler sets the handler of accepted matches. The default is DefaultHandler.
func (m *Matcher) WithHandler(handler Handler) *Matcher {
	m.handler = handler
	return m
}

// WithRegionPrefix sets a prefix to the names of the outlined regions. By default they are named after
// the pattern.
func (m *Matcher) WithRegionPrefix(prefix string) *Matcher {
	m.regionPrefix = prefix
	return m
}

// Options returns the options of the matcher.
func (m *Matcher) Options() Options { return m.opts }

// Annotations used and updated by the matcher.
func (m *Matcher) Annotations() *annotations.Annotations { return m.ann }

// Patterns returns the patterns of the matcher, in priority order.
func (m *Matcher) Patterns() []*pattern.Pattern { return slices.Clone(m.patterns) }

// RunMatcher runs the patterns on the region with a default Matcher. It returns whether any match was
// replaced.
func RunMatcher(patterns []*pattern.Pattern, region *ir.Region, opts Options) (bool, error) {
	return New(patterns, opts, nil).RunOnRegion(region)
}

// Run the matcher on every region of the module, except fused ones. Regions created by the run are not
// visited.
func (m *Matcher) Run(module *ir.Module) (changed bool, err error) {
	regions := module.Regions()
	for _, r := range regions {
		if r.IsFused() || !slices.Contains(module.Regions(), r) {
			continue
		}
		regionChanged, err := m.RunOnRegion(r)
		if err != nil {
			return changed, err
		}
		changed = changed || regionChanged
	}
	return changed, nil
}

// RunOnRegion runs the matcher on one region. It returns whether any match was replaced.
//
// Graph building errors raised as panics are returned as errors.
func (m *Matcher) RunOnRegion(region *ir.Region) (changed bool, err error) {
	if region == nil {
		return false, errors.New("matcher: nil region")
	}
	err = exceptions.TryCatch[error](func() {
		matches := m.findMatches(region)
		a := newArbiter(m, region)
		for _, match := range matches {
			applied, applyErr := a.apply(match)
			if applyErr != nil {
				panic(applyErr)
			}
			changed = changed || applied
		}
		klog.V(1).Infof("matcher: region %q: %d matches found, %d replaced", region.Name(), len(matches), a.count)
	})
	if err != nil {
		return changed, errors.WithMessagef(err, "matcher failed on region %q", region.Name())
	}
	return changed, nil
}

// findMatches collects the matches of every pattern, in priority order, and within a pattern in the
// post-order of the candidates.
func (m *Matcher) findMatches(region *ir.Region) []*Match {
	var candidates []*ir.Instruction
	if m.opts.RootOnly {
		if root := region.Root(); root != nil {
			candidates = []*ir.Instruction{root}
		}
	} else {
		candidates = region.PostOrder()
	}
	var matches []*Match
	for idx, p := range m.patterns {
		b := newBinder(p, region, m.opts.LookThroughMaxDepth)
		for _, inst := range candidates {
			if match := b.match(inst); match != nil {
				match.PatternIndex = idx
				matches = append(matches, match)
			}
		}
	}
	return matches
}

// arbiter applies the matches of one region in order.
type arbiter struct {
	*Matcher
	region *ir.Region

	// replacedBy maps the outputs of earlier matches to the values replacing them.
	replacedBy map[*ir.Instruction]*ir.Instruction
	count      int
}

func newArbiter(m *Matcher, region *ir.Region) *arbiter {
	return &arbiter{Matcher: m, region: region, replacedBy: make(map[*ir.Instruction]*ir.Instruction)}
}

// remap follows the replacements of earlier matches.
func (a *arbiter) remap(inst *ir.Instruction) *ir.Instruction {
	for {
		next, found := a.replacedBy[inst]
		if !found {
			return inst
		}
		inst = next
	}
}

// reject logs the reason a match is not applied.
func reject(match *Match, format string, args ...any) {
	if klog.V(2).Enabled() {
		klog.Infof("matcher: rejected %s: "+format, append([]any{match}, args...)...)
	}
}

// apply arbitrates and replaces one match. It returns false if the match was rejected.
func (a *arbiter) apply(match *Match) (bool, error) {
	p := match.Pattern
	for _, inst := range match.Replaced() {
		if inst.Region() != a.region {
			reject(match, "%s was replaced by an earlier match", inst.Name())
			return false, nil
		}
	}
	for _, trace := range match.Traces {
		for _, inst := range trace.Chain {
			if inst.Region() != a.region {
				reject(match, "look-through chain element %s was replaced by an earlier match", inst.Name())
				return false, nil
			}
		}
	}

	// Inputs replaced by earlier matches now come from their replacements.
	for _, id := range p.Inputs() {
		match.Instructions[id] = a.remap(match.Instructions[id])
	}
	for ii := range match.Traces {
		match.Traces[ii].Found = a.remap(match.Traces[ii].Found)
	}
	match.ParameterIndices = make(map[*ir.Instruction][]int)
	for slot, inst := range match.Inputs() {
		match.ParameterIndices[inst] = append(match.ParameterIndices[inst], slot)
	}

	// Re-associations are undone unless the match is replaced, including on errors and panics.
	var applied []*rewrite
	committed := false
	defer func() {
		if committed {
			return
		}
		for _, rw := range slices.Backward(applied) {
			rw.undo()
		}
	}()
	for _, trace := range match.Traces {
		anchor := match.Anchor()
		if !traceHolds(anchor, trace) {
			reject(match, "%s no longer holds", trace)
			return false, nil
		}
		applied = append(applied, applyTrace(anchor, trace))
	}
	if reason := a.validate(match); reason != "" {
		reject(match, "%s", reason)
		return false, nil
	}

	if reason := a.checkInplace(match); reason != "" {
		reject(match, "%s", reason)
		return false, nil
	}
	sharding, ok := a.sharding(match)
	if !ok {
		reject(match, "replaced instructions are placed on different devices")
		return false, nil
	}
	match.Sharding = sharding

	req := outline.Request{
		Region:              a.region,
		Name:                a.regionPrefix + p.Name(),
		Kind:                outline.Fusion,
		FusionKind:          p.Name(),
		Instructions:        match.Replaced(),
		Inputs:              match.Inputs(),
		Outputs:             match.Outputs(),
		MetaTarget:          match.MetaTarget(),
		Sharding:            sharding,
		ControlPredecessors: match.ControlPredecessors,
		Annotations:         a.ann,
	}
	if err := outline.Check(req); err != nil {
		reject(match, "%v", err)
		return false, nil
	}
	result, err := a.handler.HandleMatch(match, req)
	if err != nil {
		var conflict *outline.OutlineConflictError
		if errors.As(err, &conflict) {
			reject(match, "%v", err)
			return false, nil
		}
		return false, errors.WithMessagef(err, "replacing %s", match)
	}
	if result == nil {
		reject(match, "declined by handler")
		return false, nil
	}
	committed = true

	if sharding != nil {
		for _, inst := range result.Kept {
			if inst.Sharding() == nil {
				inst.SetSharding(sharding)
			}
		}
		for _, clone := range result.Clones {
			if clone.Sharding() == nil {
				clone.SetSharding(sharding)
			}
		}
	}
	for output, replacement := range result.Replacements {
		a.replacedBy[output] = replacement
	}
	if len(p.InplaceInputs()) > 0 && result.Call != nil {
		a.ann.AddInplaceCall(result.Call, p.InplaceSlots())
	}
	a.count++
	klog.V(1).Infof("matcher: replaced %s", match)
	return true, nil
}

// validate checks that the structure of the match still holds in the graph. It returns the reason if not.
func (a *arbiter) validate(match *Match) string {
	p := match.Pattern
	for id, inst := range match.Instructions {
		if !a.region.Contains(inst) {
			return fmt.Sprintf("instruction bound to node #%d is no longer in the region", id)
		}
		if !p.NodeMatches(id, inst) {
			return fmt.Sprintf("node #%d no longer matches %s", id, inst.Name())
		}
		if p.IsInput(id) {
			continue
		}
		operands := p.Node(id).Operands
		if inst.NumOperands() != len(operands) {
			return fmt.Sprintf("%s changed its number of operands", inst.Name())
		}
		for k, child := range operands {
			if inst.Operand(k) != match.Instructions[child] {
				return fmt.Sprintf("operand #%d of %s changed", k, inst.Name())
			}
		}
	}
	return ""
}

// checkInplace verifies the in-place inputs, and collects their readers as control predecessors of the
// call. It returns the reason of the rejection, if any.
func (a *arbiter) checkInplace(match *Match) string {
	p := match.Pattern
	match.ControlPredecessors = nil
	replaced := types.SetWith(match.Replaced()...)
	for _, id := range p.InplaceInputs() {
		inst := match.Instructions[id]
		if len(match.ParameterIndices[inst]) > 1 {
			return fmt.Sprintf("in-place input %s is bound to other inputs of the match", inst.Name())
		}
		if a.ann.IsMutatedInPlace(inst, nil) {
			return fmt.Sprintf("in-place input %s is already mutated in place", inst.Name())
		}
		for _, user := range inst.Users() {
			if !replaced.Has(user) && !slices.Contains(match.ControlPredecessors, user) {
				match.ControlPredecessors = append(match.ControlPredecessors, user)
			}
		}
	}
	return ""
}

// sharding returns the device placement of the call replacing the match, and false if the replaced
// instructions are on different devices and a unique sharding is required.
func (a *arbiter) sharding(match *Match) (*ir.Sharding, bool) {
	var sharding *ir.Sharding
	conflict := false
	for _, inst := range match.Replaced() {
		if predicates.IsConstantLike.Classify(inst) || inst.Sharding() == nil {
			continue
		}
		if sharding == nil {
			sharding = inst.Sharding()
		} else if sharding.Device != inst.Sharding().Device {
			conflict = true
		}
	}
	if !conflict {
		return sharding, true
	}
	if a.opts.RequireUniqueSharding {
		return nil, false
	}
	if metaSharding := match.MetaTarget().Sharding(); metaSharding != nil {
		sharding = metaSharding
	}
	klog.Warningf("matcher: %s: replaced instructions are placed on different devices, using %s", match, sharding)
	return sharding, true
}
