// Package filter implements the conversation matching engine.
package filter

import (
	"strings"
	"time"

	"sweepbot/internal/model"
)

const day = 24 * time.Hour

// Resolver looks up stored filters referenced by combination filters.
type Resolver interface {
	Resolve(id string) (*model.Filter, bool)
}

// Engine evaluates filters against conversations at a fixed instant.
type Engine struct {
	resolver Resolver
	now      time.Time
}

// NewEngine creates an Engine. A nil resolver makes every filter reference
// unresolvable.
func NewEngine(resolver Resolver, now time.Time) *Engine {
	return &Engine{resolver: resolver, now: now}
}

// Match reports whether conv is selected by f.
// The only error is *model.CyclicFilterError; missing conversation data
// never fails a match, it skips the corresponding check.
func (e *Engine) Match(conv model.Conversation, f *model.Filter) (bool, error) {
	return e.match(conv, f, nil)
}

func (e *Engine) match(conv model.Conversation, f *model.Filter, path []string) (bool, error) {
	if !f.IsCombinationFilter || len(f.SubFilters) == 0 {
		return MatchCriteria(conv, f.Criteria, e.now), nil
	}

	if f.ID != "" {
		if containsID(path, f.ID) {
			return false, &model.CyclicFilterError{Path: append(append([]string{}, path...), f.ID)}
		}
		path = append(path[:len(path):len(path)], f.ID)
	}

	results := make([]bool, 0, len(f.SubFilters))
	for _, sub := range f.SubFilters {
		ok, err := e.matchSub(conv, sub, path)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	return combine(f.CombinationOperation, results), nil
}

func (e *Engine) matchSub(conv model.Conversation, sub model.SubFilter, path []string) (bool, error) {
	if sub.IsReference() {
		ref, ok := e.resolve(sub.FilterID)
		if !ok {
			return false, nil
		}
		return e.match(conv, ref, path)
	}
	if sub.Criteria == nil {
		return false, nil
	}
	return MatchCriteria(conv, *sub.Criteria, e.now), nil
}

func (e *Engine) resolve(id string) (*model.Filter, bool) {
	if e.resolver == nil {
		return nil, false
	}
	return e.resolver.Resolve(id)
}

func combine(op model.CombinationOp, results []bool) bool {
	if op == model.CombineOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// CheckCycles walks the subfilter references reachable from f and returns a
// *model.CyclicFilterError if any filter is reached again on its own path.
func CheckCycles(f *model.Filter, resolver Resolver) error {
	e := &Engine{resolver: resolver}
	return e.walk(f, nil)
}

func (e *Engine) walk(f *model.Filter, path []string) error {
	if !f.IsCombinationFilter || len(f.SubFilters) == 0 {
		return nil
	}
	if f.ID != "" {
		if containsID(path, f.ID) {
			return &model.CyclicFilterError{Path: append(append([]string{}, path...), f.ID)}
		}
		path = append(path[:len(path):len(path)], f.ID)
	}
	for _, sub := range f.SubFilters {
		if !sub.IsReference() {
			continue
		}
		ref, ok := e.resolve(sub.FilterID)
		if !ok {
			continue
		}
		if err := e.walk(ref, path); err != nil {
			return err
		}
	}
	return nil
}

func containsID(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// MatchCriteria applies plain criteria to a conversation, short-circuiting on
// the first failing check.
func MatchCriteria(conv model.Conversation, c model.Criteria, now time.Time) bool {
	if c.ClosedOnly && conv.Status != model.StatusClosed {
		return false
	}

	last := conv.LastActivity()
	if c.MaxDays > 0 {
		cutoff := now.Add(-time.Duration(c.MaxDays) * day)
		if !last.Before(cutoff) {
			return false
		}
	}

	if !platformAllowed(c.Platforms, conv.Meta.Origin) {
		return false
	}

	if c.InactivityEnabled {
		inactive := int(now.Sub(last) / day)
		if inactive < c.InactivityDays {
			return false
		}
	}

	if c.KeywordEnabled && len(c.Keywords) > 0 && conv.Preview != "" {
		if !matchKeywords(conv.Preview, c.Keywords, c.KeywordMatch) {
			return false
		}
	}

	if c.UserAttributesEnabled && len(c.EmailDomains) > 0 && conv.Meta.Email != "" {
		if !matchDomain(conv.Meta.Email, c.EmailDomains, c.DomainMatch) {
			return false
		}
	}

	if c.TagsEnabled && !matchTags(conv.Meta.Tags, c.IncludeTags, c.ExcludeTags) {
		return false
	}

	if c.OperatorsEnabled && len(c.Operators) > 0 {
		if !matchOperators(conv.Meta.Operators, c.Operators, c.OperatorMatch) {
			return false
		}
	}

	return true
}

func platformAllowed(platforms []string, origin string) bool {
	if len(platforms) == 0 {
		return true
	}
	for _, p := range platforms {
		if strings.EqualFold(p, model.PlatformAll) {
			return true
		}
	}
	for _, p := range platforms {
		if strings.EqualFold(p, origin) {
			return true
		}
	}
	return false
}

func matchKeywords(preview string, keywords []string, mode model.KeywordMatch) bool {
	text := strings.ToLower(preview)
	if mode == model.KeywordAll {
		for _, kw := range keywords {
			if !strings.Contains(text, strings.ToLower(kw)) {
				return false
			}
		}
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func matchDomain(email string, domains []string, mode model.DomainMatch) bool {
	domain := EmailDomain(email)
	if domain == "" {
		return mode == model.DomainExclude
	}
	listed := false
	for _, d := range domains {
		if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@") == domain {
			listed = true
			break
		}
	}
	if mode == model.DomainExclude {
		return !listed
	}
	return listed
}

// EmailDomain returns the lower-cased part after the last '@', or "" when the
// address has none.
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[i+1:]))
}

func matchTags(tags, include, exclude []string) bool {
	if len(exclude) > 0 && anyIn(exclude, tags) {
		return false
	}
	if len(include) > 0 && !anyIn(include, tags) {
		return false
	}
	return true
}

func matchOperators(have, want []string, mode model.OperatorMatch) bool {
	if len(have) == 0 {
		return mode == model.OperatorNone
	}
	switch mode {
	case model.OperatorAll:
		for _, w := range want {
			if !containsFold(have, w) {
				return false
			}
		}
		return true
	case model.OperatorNone:
		return !anyIn(want, have)
	default:
		return anyIn(want, have)
	}
}

func anyIn(needles, haystack []string) bool {
	for _, n := range needles {
		if containsFold(haystack, n) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// SegmentsToDelete returns the fingerprints of the messages selected by the
// filter's segment patterns, in message order. A message qualifies when its
// content contains an include pattern and no exclude pattern.
func SegmentsToDelete(conv model.Conversation, f *model.Filter) []string {
	if len(f.IncludeSegments) == 0 {
		return nil
	}

	var ids []string
	for _, msg := range conv.Messages {
		if msg.Fingerprint == "" {
			continue
		}
		text := strings.ToLower(msg.Content)
		if !containsAny(text, f.IncludeSegments) {
			continue
		}
		if containsAny(text, f.ExcludeSegments) {
			continue
		}
		ids = append(ids, msg.Fingerprint)
	}
	return ids
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
