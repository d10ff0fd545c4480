package bot

import (
	"fmt"
	"strings"

	"sweepbot/internal/cleanup"
	"sweepbot/internal/model"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	// maxPreviews caps the conversations listed in a simulation reply.
	maxPreviews = 10
)

func statusLabel(active bool) string {
	if active {
		return statusActive
	}
	return statusPaused
}

// FormatFilterList formats the filters of a tenant for display.
func FormatFilterList(tenant string, filters []model.Filter) string {
	if len(filters) == 0 {
		return fmt.Sprintf("Tenant %s has no filters yet.", tenant)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Filters for %s:\n", tenant)
	for _, f := range filters {
		fmt.Fprintf(&b, "\n%s [%s]\n", f.Name, statusLabel(f.Active))
		fmt.Fprintf(&b, "   %s\n", describe(f))
	}
	return b.String()
}

// describe summarizes what a filter selects in one line.
func describe(f model.Filter) string {
	if f.IsCombinationFilter {
		return fmt.Sprintf("combination (%s) of %d subfilters", f.CombinationOperation, len(f.SubFilters))
	}
	var parts []string
	if f.ClosedOnly {
		parts = append(parts, "closed only")
	}
	if f.MaxDays > 0 {
		parts = append(parts, fmt.Sprintf("newer than %d days", f.MaxDays))
	}
	if f.InactivityEnabled {
		parts = append(parts, fmt.Sprintf("idle %d+ days", f.InactivityDays))
	}
	if f.KeywordEnabled && len(f.Keywords) > 0 {
		parts = append(parts, fmt.Sprintf("keywords(%s): %s", f.KeywordMatch, strings.Join(f.Keywords, ", ")))
	}
	if f.TagsEnabled {
		parts = append(parts, "tags")
	}
	if f.UserAttributesEnabled {
		parts = append(parts, fmt.Sprintf("email domains (%s)", f.DomainMatch))
	}
	if f.OperatorsEnabled {
		parts = append(parts, fmt.Sprintf("operators (%s)", f.OperatorMatch))
	}
	if f.DeleteSegmentsOnly {
		parts = append(parts, "segments only")
	}
	if len(parts) == 0 {
		return "matches everything"
	}
	return strings.Join(parts, "; ")
}

// FormatFilterInfo formats detailed information about a single filter.
func FormatFilterInfo(f model.Filter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", f.Name, statusLabel(f.Active))
	fmt.Fprintf(&b, "ID: %s\n", f.ID)
	if f.Group != "" {
		fmt.Fprintf(&b, "Group: %s\n", f.Group)
	}
	fmt.Fprintf(&b, "Rules: %s\n", describe(f))
	if len(f.Platforms) > 0 {
		fmt.Fprintf(&b, "Platforms: %s\n", strings.Join(f.Platforms, ", "))
	}
	if len(f.IncludeSegments) > 0 {
		fmt.Fprintf(&b, "Segments: %s\n", strings.Join(f.IncludeSegments, ", "))
	}
	if f.AutoRun {
		fmt.Fprintf(&b, "Auto-run: daily at %s\n", f.AutoRunTime)
	} else {
		b.WriteString("Auto-run: off\n")
	}
	fmt.Fprintf(&b, "Updated: %s\n", f.UpdatedAt.Format("2006-01-02 15:04 UTC"))
	return b.String()
}

// FormatGroupList formats the groups of a tenant.
func FormatGroupList(tenant string, groups []model.Group) string {
	if len(groups) == 0 {
		return fmt.Sprintf("Tenant %s has no groups.", tenant)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Groups for %s:\n", tenant)
	for _, g := range groups {
		fmt.Fprintf(&b, "  %s (%s)\n", g.Name, g.ID)
	}
	return b.String()
}

// FormatSimulate formats the outcome of a simulation.
func FormatSimulate(tenant, filterName string, res cleanup.SimulateResult) string {
	if !res.Success {
		return fmt.Sprintf("[%s] Simulation of \"%s\" failed: %s", tenant, filterName, res.Error)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] \"%s\" would delete %d conversations.", tenant, filterName, res.Count)
	formatPreviews(&b, res.Conversations)
	return b.String()
}

func formatPreviews(b *strings.Builder, previews []cleanup.Preview) {
	if len(previews) == 0 {
		return
	}
	b.WriteString("\n")
	for _, p := range previews[:min(len(previews), maxPreviews)] {
		text := p.Preview
		if text == "" {
			text = "(no preview)"
		}
		fmt.Fprintf(b, "\n%s: %s", p.SessionID, text)
	}
	if extra := len(previews) - maxPreviews; extra > 0 {
		fmt.Fprintf(b, "\n...and %d more", extra)
	}
}

// FormatRunSummary formats the outcome of a cleanup run.
func FormatRunSummary(tenant, filterName string, res cleanup.RunResult) string {
	if res.FilterName != "" {
		filterName = res.FilterName
	}
	var b strings.Builder
	switch {
	case res.DryRun && res.Success:
		fmt.Fprintf(&b, "[%s] Dry run of \"%s\": %d conversations would be deleted.", tenant, filterName, res.Count)
		formatPreviews(&b, res.Conversations)
		return b.String()
	case res.Success:
		fmt.Fprintf(&b, "[%s] Cleanup \"%s\" finished.\n", tenant, filterName)
	default:
		fmt.Fprintf(&b, "[%s] Cleanup \"%s\" failed: %s\n", tenant, filterName, res.Error)
		if res.Total == 0 {
			return strings.TrimRight(b.String(), "\n")
		}
	}
	fmt.Fprintf(&b, "Matched: %d\nDeleted: %d\nErrors: %d", res.Total, res.Deleted, res.Errors)
	if res.SegmentsDeleted > 0 {
		fmt.Fprintf(&b, "\nSegments deleted: %d", res.SegmentsDeleted)
	}
	return b.String()
}

// FormatStats formats the aggregate statistics of a tenant.
func FormatStats(tenant string, s model.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stats for %s:\n", tenant)
	fmt.Fprintf(&b, "Runs: %d\n", s.Runs)
	fmt.Fprintf(&b, "Simulations: %d\n", s.Simulations)
	fmt.Fprintf(&b, "Conversations deleted: %d\n", s.ConversationsDeleted)
	fmt.Fprintf(&b, "Segments deleted: %d\n", s.SegmentsDeleted)
	fmt.Fprintf(&b, "Errors: %d\n", s.Errors)
	if s.LastRunAt != nil {
		fmt.Fprintf(&b, "Last run: %s\n", s.LastRunAt.UTC().Format("2006-01-02 15:04 UTC"))
	} else {
		b.WriteString("Last run: never\n")
	}
	return b.String()
}
