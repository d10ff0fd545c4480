package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sweepbot/internal/model"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return now.Add(-time.Duration(n) * 24 * time.Hour)
}

type mapResolver map[string]*model.Filter

func (m mapResolver) Resolve(id string) (*model.Filter, bool) {
	f, ok := m[id]
	return f, ok
}

func TestMatchCriteria(t *testing.T) {
	oldClosed := model.Conversation{
		SessionID: "s1",
		Status:    model.StatusClosed,
		UpdatedAt: daysAgo(40),
		Meta: model.ConversationMeta{
			Origin:    "chat",
			Email:     "Jane@Example.com",
			Tags:      []string{"vip", "billing"},
			Operators: []string{"op-1", "op-2"},
		},
		Preview: "Hello, I need a refund for my order",
	}

	tests := []struct {
		name     string
		conv     model.Conversation
		criteria model.Criteria
		want     bool
	}{
		{
			name:     "empty criteria matches everything",
			conv:     model.Conversation{Status: model.StatusPending},
			criteria: model.Criteria{},
			want:     true,
		},
		{
			name:     "closed only rejects open conversation",
			conv:     model.Conversation{Status: model.StatusPending, UpdatedAt: daysAgo(400)},
			criteria: model.Criteria{ClosedOnly: true},
			want:     false,
		},
		{
			name:     "closed only accepts closed conversation",
			conv:     oldClosed,
			criteria: model.Criteria{ClosedOnly: true},
			want:     true,
		},
		{
			name: "closed only wins over every other passing criterion",
			conv: model.Conversation{Status: model.StatusUnread, UpdatedAt: daysAgo(400), Meta: model.ConversationMeta{Origin: "chat"}},
			criteria: model.Criteria{
				ClosedOnly: true,
				MaxDays:    1,
				Platforms:  []string{"chat"},
			},
			want: false,
		},
		{
			name:     "max days exactly on the boundary is not older",
			conv:     model.Conversation{UpdatedAt: daysAgo(30)},
			criteria: model.Criteria{MaxDays: 30},
			want:     false,
		},
		{
			name:     "max days one day older matches",
			conv:     model.Conversation{UpdatedAt: daysAgo(31)},
			criteria: model.Criteria{MaxDays: 30},
			want:     true,
		},
		{
			name:     "max days falls back to created timestamp",
			conv:     model.Conversation{CreatedAt: daysAgo(31)},
			criteria: model.Criteria{MaxDays: 30},
			want:     true,
		},
		{
			name:     "max days with no timestamps uses epoch",
			conv:     model.Conversation{},
			criteria: model.Criteria{MaxDays: 30},
			want:     true,
		},
		{
			name:     "recent conversation is kept",
			conv:     model.Conversation{UpdatedAt: daysAgo(2)},
			criteria: model.Criteria{MaxDays: 30},
			want:     false,
		},
		{
			name:     "platform in allow-list",
			conv:     oldClosed,
			criteria: model.Criteria{Platforms: []string{"email", "chat"}},
			want:     true,
		},
		{
			name:     "platform not in allow-list",
			conv:     oldClosed,
			criteria: model.Criteria{Platforms: []string{"email"}},
			want:     false,
		},
		{
			name:     "platform sentinel all",
			conv:     oldClosed,
			criteria: model.Criteria{Platforms: []string{"email", "all"}},
			want:     true,
		},
		{
			name:     "inactivity reached",
			conv:     model.Conversation{UpdatedAt: daysAgo(14)},
			criteria: model.Criteria{InactivityEnabled: true, InactivityDays: 14},
			want:     true,
		},
		{
			name:     "inactivity not reached",
			conv:     model.Conversation{UpdatedAt: now.Add(-13*24*time.Hour - 23*time.Hour)},
			criteria: model.Criteria{InactivityEnabled: true, InactivityDays: 14},
			want:     false,
		},
		{
			name:     "inactivity disabled is ignored",
			conv:     model.Conversation{UpdatedAt: now},
			criteria: model.Criteria{InactivityEnabled: false, InactivityDays: 14},
			want:     true,
		},
		{
			name:     "keyword any matches case-insensitively",
			conv:     oldClosed,
			criteria: model.Criteria{KeywordEnabled: true, Keywords: []string{"shipping", "REFUND"}, KeywordMatch: model.KeywordAny},
			want:     true,
		},
		{
			name:     "keyword all requires every keyword",
			conv:     oldClosed,
			criteria: model.Criteria{KeywordEnabled: true, Keywords: []string{"refund", "shipping"}, KeywordMatch: model.KeywordAll},
			want:     false,
		},
		{
			name:     "keyword all satisfied",
			conv:     oldClosed,
			criteria: model.Criteria{KeywordEnabled: true, Keywords: []string{"refund", "order"}, KeywordMatch: model.KeywordAll},
			want:     true,
		},
		{
			name:     "keyword check skipped without preview",
			conv:     model.Conversation{},
			criteria: model.Criteria{KeywordEnabled: true, Keywords: []string{"refund"}},
			want:     true,
		},
		{
			name:     "domain include listed",
			conv:     oldClosed,
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"@example.com"}, DomainMatch: model.DomainInclude},
			want:     true,
		},
		{
			name:     "domain include not listed",
			conv:     oldClosed,
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"other.org"}, DomainMatch: model.DomainInclude},
			want:     false,
		},
		{
			name:     "domain exclude listed",
			conv:     oldClosed,
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"example.com"}, DomainMatch: model.DomainExclude},
			want:     false,
		},
		{
			name:     "domain exclude not listed",
			conv:     oldClosed,
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"other.org"}, DomainMatch: model.DomainExclude},
			want:     true,
		},
		{
			name:     "domain check skipped without email",
			conv:     model.Conversation{},
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"example.com"}, DomainMatch: model.DomainInclude},
			want:     true,
		},
		{
			name:     "email without domain fails include",
			conv:     model.Conversation{Meta: model.ConversationMeta{Email: "nobody"}},
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"example.com"}, DomainMatch: model.DomainInclude},
			want:     false,
		},
		{
			name:     "email without domain passes exclude",
			conv:     model.Conversation{Meta: model.ConversationMeta{Email: "nobody"}},
			criteria: model.Criteria{UserAttributesEnabled: true, EmailDomains: []string{"example.com"}, DomainMatch: model.DomainExclude},
			want:     true,
		},
		{
			name:     "exclude tag present",
			conv:     oldClosed,
			criteria: model.Criteria{TagsEnabled: true, ExcludeTags: []string{"VIP"}},
			want:     false,
		},
		{
			name:     "include tag present",
			conv:     oldClosed,
			criteria: model.Criteria{TagsEnabled: true, IncludeTags: []string{"billing"}},
			want:     true,
		},
		{
			name:     "include tag absent",
			conv:     oldClosed,
			criteria: model.Criteria{TagsEnabled: true, IncludeTags: []string{"spam"}},
			want:     false,
		},
		{
			name:     "include tags with untagged conversation",
			conv:     model.Conversation{},
			criteria: model.Criteria{TagsEnabled: true, IncludeTags: []string{"spam"}},
			want:     false,
		},
		{
			name:     "operators any",
			conv:     oldClosed,
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-2", "op-9"}, OperatorMatch: model.OperatorAny},
			want:     true,
		},
		{
			name:     "operators all missing one",
			conv:     oldClosed,
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-1", "op-9"}, OperatorMatch: model.OperatorAll},
			want:     false,
		},
		{
			name:     "operators all present",
			conv:     oldClosed,
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-1", "op-2"}, OperatorMatch: model.OperatorAll},
			want:     true,
		},
		{
			name:     "operators none with overlap",
			conv:     oldClosed,
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-1"}, OperatorMatch: model.OperatorNone},
			want:     false,
		},
		{
			name:     "operators none without overlap",
			conv:     oldClosed,
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-7"}, OperatorMatch: model.OperatorNone},
			want:     true,
		},
		{
			name:     "no operators on conversation passes only none",
			conv:     model.Conversation{},
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-1"}, OperatorMatch: model.OperatorAny},
			want:     false,
		},
		{
			name:     "no operators on conversation with none mode",
			conv:     model.Conversation{},
			criteria: model.Criteria{OperatorsEnabled: true, Operators: []string{"op-1"}, OperatorMatch: model.OperatorNone},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchCriteria(tt.conv, tt.criteria, now)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MatchCriteria() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchCombination(t *testing.T) {
	closed := model.Conversation{Status: model.StatusClosed, UpdatedAt: daysAgo(5), Meta: model.ConversationMeta{Origin: "chat"}}

	isClosed := &model.Criteria{ClosedOnly: true}
	isOld := &model.Criteria{MaxDays: 30}
	isChat := &model.Criteria{Platforms: []string{"chat"}}

	stored := mapResolver{
		"old":    {ID: "old", Name: "old", Criteria: model.Criteria{MaxDays: 30}},
		"closed": {ID: "closed", Name: "closed", Criteria: model.Criteria{ClosedOnly: true}},
		"nested": {
			ID: "nested", IsCombinationFilter: true, CombinationOperation: model.CombineAnd,
			SubFilters: []model.SubFilter{{FilterID: "closed"}, {Criteria: isChat}},
		},
	}

	tests := []struct {
		name   string
		filter model.Filter
		want   bool
	}{
		{
			name: "AND with one failing operand",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineAnd,
				SubFilters: []model.SubFilter{{Criteria: isClosed}, {Criteria: isOld}},
			},
			want: false,
		},
		{
			name: "AND with all operands passing",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineAnd,
				SubFilters: []model.SubFilter{{Criteria: isClosed}, {Criteria: isChat}},
			},
			want: true,
		},
		{
			name: "OR with one passing operand",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineOr,
				SubFilters: []model.SubFilter{{Criteria: isOld}, {Criteria: isClosed}},
			},
			want: true,
		},
		{
			name: "OR with no passing operand",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineOr,
				SubFilters: []model.SubFilter{{Criteria: isOld}, {FilterID: "old"}},
			},
			want: false,
		},
		{
			name: "reference to stored filter",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineAnd,
				SubFilters: []model.SubFilter{{FilterID: "closed"}},
			},
			want: true,
		},
		{
			name: "unresolvable reference evaluates false",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineOr,
				SubFilters: []model.SubFilter{{FilterID: "missing"}},
			},
			want: false,
		},
		{
			name: "nested combination reference",
			filter: model.Filter{
				IsCombinationFilter: true, CombinationOperation: model.CombineAnd,
				SubFilters: []model.SubFilter{{FilterID: "nested"}},
			},
			want: true,
		},
		{
			name: "combination ignores its own base criteria",
			filter: model.Filter{
				Criteria:            model.Criteria{MaxDays: 365},
				IsCombinationFilter: true, CombinationOperation: model.CombineAnd,
				SubFilters: []model.SubFilter{{Criteria: isClosed}},
			},
			want: true,
		},
		{
			name: "empty subfilter list falls through to base criteria",
			filter: model.Filter{
				Criteria:            model.Criteria{MaxDays: 365},
				IsCombinationFilter: true, CombinationOperation: model.CombineOr,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(stored, now)
			got, err := e.Match(closed, &tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Match() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchCycle(t *testing.T) {
	a := &model.Filter{ID: "a", IsCombinationFilter: true, CombinationOperation: model.CombineOr, SubFilters: []model.SubFilter{{FilterID: "b"}}}
	b := &model.Filter{ID: "b", IsCombinationFilter: true, CombinationOperation: model.CombineOr, SubFilters: []model.SubFilter{{FilterID: "a"}}}
	self := &model.Filter{ID: "self", IsCombinationFilter: true, SubFilters: []model.SubFilter{{FilterID: "self"}}}
	r := mapResolver{"a": a, "b": b, "self": self}

	tests := []struct {
		name     string
		filter   *model.Filter
		wantPath []string
	}{
		{name: "two filters referencing each other", filter: a, wantPath: []string{"a", "b", "a"}},
		{name: "filter referencing itself", filter: self, wantPath: []string{"self", "self"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(r, now).Match(model.Conversation{}, tt.filter)
			var cyc *model.CyclicFilterError
			if !errors.As(err, &cyc) {
				t.Fatalf("expected CyclicFilterError, got %v", err)
			}
			if diff := cmp.Diff(tt.wantPath, cyc.Path); diff != "" {
				t.Errorf("cycle path mismatch (-want +got):\n%s", diff)
			}

			err = CheckCycles(tt.filter, r)
			if !errors.As(err, &cyc) {
				t.Fatalf("CheckCycles: expected CyclicFilterError, got %v", err)
			}
		})
	}
}

func TestCheckCyclesAcyclic(t *testing.T) {
	leaf := &model.Filter{ID: "leaf", Criteria: model.Criteria{MaxDays: 1}}
	mid := &model.Filter{ID: "mid", IsCombinationFilter: true, SubFilters: []model.SubFilter{{FilterID: "leaf"}}}
	// Diamond: top references leaf twice through different paths.
	top := &model.Filter{ID: "top", IsCombinationFilter: true, SubFilters: []model.SubFilter{{FilterID: "mid"}, {FilterID: "leaf"}, {FilterID: "gone"}}}
	r := mapResolver{"leaf": leaf, "mid": mid, "top": top}

	if err := CheckCycles(top, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSegmentsToDelete(t *testing.T) {
	conv := model.Conversation{
		Messages: []model.Message{
			{Fingerprint: "m1", Content: "Your verification CODE is 1234"},
			{Fingerprint: "m2", Content: "thanks!"},
			{Fingerprint: "m3", Content: "code review tomorrow, keep this"},
			{Fingerprint: "m4", Content: "another code: 9999"},
			{Fingerprint: "", Content: "code without fingerprint"},
		},
	}

	tests := []struct {
		name   string
		filter model.Filter
		want   []string
	}{
		{
			name:   "no include patterns selects nothing",
			filter: model.Filter{Criteria: model.Criteria{ExcludeSegments: []string{"keep"}}},
			want:   nil,
		},
		{
			name:   "include only, in message order",
			filter: model.Filter{Criteria: model.Criteria{IncludeSegments: []string{"code"}}},
			want:   []string{"m1", "m3", "m4"},
		},
		{
			name:   "exclude wins over include",
			filter: model.Filter{Criteria: model.Criteria{IncludeSegments: []string{"code"}, ExcludeSegments: []string{"KEEP"}}},
			want:   []string{"m1", "m4"},
		},
		{
			name:   "any include pattern qualifies",
			filter: model.Filter{Criteria: model.Criteria{IncludeSegments: []string{"thanks", "9999"}}},
			want:   []string{"m2", "m4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SegmentsToDelete(conv, &tt.filter)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SegmentsToDelete() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmailDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{email: "a@Example.COM", want: "example.com"},
		{email: "weird@name@host.io", want: "host.io"},
		{email: "nobody", want: ""},
		{email: "trailing@", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, EmailDomain(tt.email)); diff != "" {
				t.Errorf("EmailDomain() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
