// Package model defines the domain types used across the application.
package model

import "time"

// Conversation statuses reported by the chat platform.
const (
	StatusPending  = "pending"
	StatusUnread   = "unread"
	StatusResolved = "resolved"
	StatusClosed   = "closed"
)

// PlatformAll disables the platform allow-list when present in it.
const PlatformAll = "all"

// KeywordMatch controls how a keyword list is applied to a conversation preview.
type KeywordMatch string

// Supported keyword match modes.
const (
	KeywordAny KeywordMatch = "any"
	KeywordAll KeywordMatch = "all"
)

// DomainMatch controls whether listed email domains are selected or spared.
type DomainMatch string

// Supported domain match modes.
const (
	DomainInclude DomainMatch = "include"
	DomainExclude DomainMatch = "exclude"
)

// OperatorMatch controls how the operator list is compared with a conversation.
type OperatorMatch string

// Supported operator match modes.
const (
	OperatorAny  OperatorMatch = "any"
	OperatorAll  OperatorMatch = "all"
	OperatorNone OperatorMatch = "none"
)

// CombinationOp joins the results of a combination filter's subfilters.
type CombinationOp string

// Supported combination operations.
const (
	CombineAnd CombinationOp = "AND"
	CombineOr  CombinationOp = "OR"
)

// Criteria is the set of predicates a plain filter applies to a conversation.
type Criteria struct {
	MaxDays            int      `json:"maxDays"`
	ClosedOnly         bool     `json:"closedOnly"`
	Platforms          []string `json:"platforms,omitempty"`
	IncludeSegments    []string `json:"includeSegments,omitempty"`
	ExcludeSegments    []string `json:"excludeSegments,omitempty"`
	DeleteSegmentsOnly bool     `json:"deleteSegmentsOnly"`

	InactivityEnabled bool `json:"inactivityEnabled"`
	InactivityDays    int  `json:"inactivityDays"`

	KeywordEnabled bool         `json:"keywordEnabled"`
	Keywords       []string     `json:"keywords,omitempty"`
	KeywordMatch   KeywordMatch `json:"keywordMatch,omitempty"`

	UserAttributesEnabled bool        `json:"userAttributesEnabled"`
	EmailDomains          []string    `json:"emailDomains,omitempty"`
	DomainMatch           DomainMatch `json:"domainMatch,omitempty"`

	TagsEnabled bool     `json:"tagsEnabled"`
	IncludeTags []string `json:"includeTags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`

	OperatorsEnabled bool          `json:"operatorsEnabled"`
	Operators        []string      `json:"operators,omitempty"`
	OperatorMatch    OperatorMatch `json:"operatorMatch,omitempty"`
}

// SubFilter is one operand of a combination filter. Exactly one of FilterID
// and Criteria is expected to be set.
type SubFilter struct {
	FilterID string    `json:"filterId,omitempty"`
	Criteria *Criteria `json:"criteria,omitempty"`
}

// IsReference reports whether the subfilter points at another stored filter.
func (s SubFilter) IsReference() bool {
	return s.FilterID != ""
}

// Filter is a named rule-set owned by one tenant.
type Filter struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Group string `json:"group,omitempty"`

	Criteria

	IsCombinationFilter  bool          `json:"isCombinationFilter"`
	CombinationOperation CombinationOp `json:"combinationOperation,omitempty"`
	SubFilters           []SubFilter   `json:"subFilters,omitempty"`

	AutoRun     bool   `json:"autoRun"`
	AutoRunTime string `json:"autoRunTime,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Group is a named label used to organize filters within a tenant.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TenantData is the persisted document holding all filters and groups of a tenant.
type TenantData struct {
	Filters []Filter `json:"filters"`
	Groups  []Group  `json:"groups"`
}

// ConversationMeta carries the metadata a conversation is matched against.
type ConversationMeta struct {
	Origin    string   `json:"origin,omitempty"`
	Email     string   `json:"email,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Operators []string `json:"operators,omitempty"`
}

// Message is a single segment of a conversation.
type Message struct {
	Fingerprint string    `json:"fingerprint"`
	Content     string    `json:"content"`
	From        string    `json:"from,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Conversation is a chat session read from the chat platform.
type Conversation struct {
	SessionID string           `json:"sessionId"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Meta      ConversationMeta `json:"meta"`
	Preview   string           `json:"preview,omitempty"`
	Messages  []Message        `json:"messages,omitempty"`
}

// LastActivity returns the updated timestamp, falling back to created and
// then to the Unix epoch.
func (c Conversation) LastActivity() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	if !c.CreatedAt.IsZero() {
		return c.CreatedAt
	}
	return time.Unix(0, 0).UTC()
}

// Stats aggregates cleanup activity for a tenant.
type Stats struct {
	Runs                 int64      `json:"runs"`
	Simulations          int64      `json:"simulations"`
	ConversationsDeleted int64      `json:"conversationsDeleted"`
	SegmentsDeleted      int64      `json:"segmentsDeleted"`
	Errors               int64      `json:"errors"`
	LastRunAt            *time.Time `json:"lastRunAt,omitempty"`
}

// StatsDelta is the increment recorded after a single run or simulation.
type StatsDelta struct {
	Runs                 int64
	Simulations          int64
	ConversationsDeleted int64
	SegmentsDeleted      int64
	Errors               int64
	At                   time.Time
}
