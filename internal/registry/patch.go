package registry

import (
	"strings"
	"time"

	"sweepbot/internal/model"
)

const clockLayout = "15:04"

// FilterPatch carries the fields of a filter to set. Nil fields are left
// untouched on update and take their defaults on create.
type FilterPatch struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Group *string `json:"group,omitempty"`

	MaxDays            *int      `json:"maxDays,omitempty"`
	ClosedOnly         *bool     `json:"closedOnly,omitempty"`
	Platforms          *[]string `json:"platforms,omitempty"`
	IncludeSegments    *[]string `json:"includeSegments,omitempty"`
	ExcludeSegments    *[]string `json:"excludeSegments,omitempty"`
	DeleteSegmentsOnly *bool     `json:"deleteSegmentsOnly,omitempty"`

	InactivityEnabled *bool `json:"inactivityEnabled,omitempty"`
	InactivityDays    *int  `json:"inactivityDays,omitempty"`

	KeywordEnabled *bool               `json:"keywordEnabled,omitempty"`
	Keywords       *[]string           `json:"keywords,omitempty"`
	KeywordMatch   *model.KeywordMatch `json:"keywordMatch,omitempty"`

	UserAttributesEnabled *bool              `json:"userAttributesEnabled,omitempty"`
	EmailDomains          *[]string          `json:"emailDomains,omitempty"`
	DomainMatch           *model.DomainMatch `json:"domainMatch,omitempty"`

	TagsEnabled *bool     `json:"tagsEnabled,omitempty"`
	IncludeTags *[]string `json:"includeTags,omitempty"`
	ExcludeTags *[]string `json:"excludeTags,omitempty"`

	OperatorsEnabled *bool                `json:"operatorsEnabled,omitempty"`
	Operators        *[]string            `json:"operators,omitempty"`
	OperatorMatch    *model.OperatorMatch `json:"operatorMatch,omitempty"`

	IsCombinationFilter  *bool                `json:"isCombinationFilter,omitempty"`
	CombinationOperation *model.CombinationOp `json:"combinationOperation,omitempty"`
	SubFilters           *[]model.SubFilter   `json:"subFilters,omitempty"`

	AutoRun     *bool   `json:"autoRun,omitempty"`
	AutoRunTime *string `json:"autoRunTime,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// apply copies the set fields of p onto f, coercing numbers and lists.
func (p FilterPatch) apply(f *model.Filter) error {
	if p.Name != nil {
		f.Name = strings.TrimSpace(*p.Name)
	}
	if p.Color != nil && *p.Color != "" {
		f.Color = *p.Color
	}
	if p.Group != nil {
		f.Group = strings.TrimSpace(*p.Group)
	}

	setInt(&f.MaxDays, p.MaxDays)
	setBool(&f.ClosedOnly, p.ClosedOnly)
	setList(&f.Platforms, p.Platforms)
	setList(&f.IncludeSegments, p.IncludeSegments)
	setList(&f.ExcludeSegments, p.ExcludeSegments)
	setBool(&f.DeleteSegmentsOnly, p.DeleteSegmentsOnly)

	setBool(&f.InactivityEnabled, p.InactivityEnabled)
	setInt(&f.InactivityDays, p.InactivityDays)

	setBool(&f.KeywordEnabled, p.KeywordEnabled)
	setList(&f.Keywords, p.Keywords)
	if p.KeywordMatch != nil {
		switch m := model.KeywordMatch(strings.ToLower(string(*p.KeywordMatch))); m {
		case "":
			f.KeywordMatch = model.KeywordAny
		case model.KeywordAny, model.KeywordAll:
			f.KeywordMatch = m
		default:
			return &model.ValidationError{Field: "keywordMatch", Msg: "must be any or all"}
		}
	}

	setBool(&f.UserAttributesEnabled, p.UserAttributesEnabled)
	setList(&f.EmailDomains, p.EmailDomains)
	if p.DomainMatch != nil {
		switch m := model.DomainMatch(strings.ToLower(string(*p.DomainMatch))); m {
		case "":
			f.DomainMatch = model.DomainInclude
		case model.DomainInclude, model.DomainExclude:
			f.DomainMatch = m
		default:
			return &model.ValidationError{Field: "domainMatch", Msg: "must be include or exclude"}
		}
	}

	setBool(&f.TagsEnabled, p.TagsEnabled)
	setList(&f.IncludeTags, p.IncludeTags)
	setList(&f.ExcludeTags, p.ExcludeTags)

	setBool(&f.OperatorsEnabled, p.OperatorsEnabled)
	setList(&f.Operators, p.Operators)
	if p.OperatorMatch != nil {
		switch m := model.OperatorMatch(strings.ToLower(string(*p.OperatorMatch))); m {
		case "":
			f.OperatorMatch = model.OperatorAny
		case model.OperatorAny, model.OperatorAll, model.OperatorNone:
			f.OperatorMatch = m
		default:
			return &model.ValidationError{Field: "operatorMatch", Msg: "must be any, all or none"}
		}
	}

	setBool(&f.IsCombinationFilter, p.IsCombinationFilter)
	if p.CombinationOperation != nil {
		switch op := model.CombinationOp(strings.ToUpper(string(*p.CombinationOperation))); op {
		case "":
			f.CombinationOperation = model.CombineAnd
		case model.CombineAnd, model.CombineOr:
			f.CombinationOperation = op
		default:
			return &model.ValidationError{Field: "combinationOperation", Msg: "must be AND or OR"}
		}
	}
	if p.SubFilters != nil {
		f.SubFilters = append([]model.SubFilter(nil), (*p.SubFilters)...)
	}

	setBool(&f.AutoRun, p.AutoRun)
	if p.AutoRunTime != nil {
		f.AutoRunTime = strings.TrimSpace(*p.AutoRunTime)
	}
	setBool(&f.Active, p.Active)
	return nil
}

// validate checks cross-field constraints of a filter about to be stored.
func validate(f *model.Filter, data model.TenantData) error {
	if f.Group != "" {
		known := false
		for _, g := range data.Groups {
			if g.ID == f.Group {
				known = true
				break
			}
		}
		if !known {
			return &model.ValidationError{Field: "group", Msg: "unknown group"}
		}
	}

	if f.AutoRunTime != "" {
		t, err := time.Parse(clockLayout, f.AutoRunTime)
		if err != nil {
			return &model.ValidationError{Field: "autoRunTime", Msg: "must be HH:MM"}
		}
		f.AutoRunTime = t.Format(clockLayout)
	} else if f.AutoRun {
		return &model.ValidationError{Field: "autoRunTime", Msg: "required when autoRun is enabled"}
	}

	for _, s := range f.SubFilters {
		if s.IsReference() == (s.Criteria != nil) {
			return &model.ValidationError{Field: "subFilters", Msg: "each subfilter needs either filterId or criteria"}
		}
		if s.FilterID == f.ID {
			return &model.ValidationError{Field: "subFilters", Msg: "filter cannot reference itself"}
		}
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v == nil {
		return
	}
	*dst = max(*v, 0)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// setList stores a trimmed copy of the list without empty entries.
func setList(dst *[]string, v *[]string) {
	if v == nil {
		return
	}
	var out []string
	for _, s := range *v {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
