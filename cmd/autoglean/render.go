package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/workflow"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

func renderOutcomes(w io.Writer, outcomes []workflow.FileOutcome) {
	table := newTable(w, "File", "Source", "Status", "Size", "Time", "Detail")

	for _, outcome := range outcomes {
		source := "backend"
		if outcome.FromCache {
			source = "cache"
		}

		status, size, detail := "ok", "-", outcome.JobID
		if outcome.Result != nil {
			size = humanize.Bytes(uint64(len(outcome.Result.ResultContent)))
		}
		if outcome.Err != nil {
			status, detail = "failed", outcome.Err.Error()
			var fileErr *workflow.FileError
			if errors.As(outcome.Err, &fileErr) {
				if fileErr.Stage == workflow.StageCancelled {
					status = "cancelled"
				}
				detail = fileErr.Err.Error()
			}
		}

		table.Append([]string{
			outcome.FileName,
			source,
			status,
			size,
			outcome.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}

	table.Render()
}

func renderExtractors(w io.Writer, extractors []types.Extractor) {
	table := newTable(w, "ID", "Extractor ID", "Name", "Visibility", "Format", "Owner", "Usage", "Updated")

	for _, e := range extractors {
		table.Append([]string{
			strconv.FormatInt(e.ID, 10),
			e.ExtractorID,
			e.NameEN,
			string(e.Visibility),
			e.OutputFormat,
			e.OwnerNameEN,
			humanize.Comma(e.UsageCount),
			e.UpdatedAt,
		})
	}

	table.Render()
}

func renderHistory(w io.Writer, records []types.HistoryRecord) {
	table := newTable(w, "ID", "Change", "By", "When", "Details")

	for _, r := range records {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			string(r.ChangeType),
			r.ChangedByUserNameEN,
			fmt.Sprintf("%s (%s)", r.ChangedAt.Format(time.RFC3339), humanize.Time(r.ChangedAt)),
			describeChange(r.Changes),
		})
	}

	table.Render()
}

func describeChange(change types.Change) string {
	switch c := change.(type) {
	case types.UpdatedChange:
		fields := make([]string, 0, len(c.Fields))
		for name := range c.Fields {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		return strings.Join(fields, ", ")
	case types.VisibilityChange:
		return fmt.Sprintf("%s -> %s", c.From, c.To)
	default:
		return ""
	}
}

func renderStats(w io.Writer, stats types.CacheStats) {
	table := newTable(w, "Metric", "Value")

	lookups := stats.Hits + stats.Misses
	ratio := "-"
	if lookups > 0 {
		ratio = fmt.Sprintf("%.1f%%", float64(stats.Hits)*100/float64(lookups))
	}

	maxEntries, maxBytes := "unlimited", "unlimited"
	if stats.MaxEntries > 0 {
		maxEntries = strconv.Itoa(stats.MaxEntries)
	}
	if stats.MaxBytes > 0 {
		maxBytes = humanize.Bytes(uint64(stats.MaxBytes))
	}

	table.AppendBulk([][]string{
		{"Backend", stats.Backend},
		{"Entries", fmt.Sprintf("%d / %s", stats.Entries, maxEntries)},
		{"Size", fmt.Sprintf("%s / %s", humanize.Bytes(uint64(stats.Bytes)), maxBytes)},
		{"Hits", humanize.Comma(int64(stats.Hits))},
		{"Misses", humanize.Comma(int64(stats.Misses))},
		{"Hit ratio", ratio},
		{"Evictions", humanize.Comma(int64(stats.Evictions))},
	})

	table.Render()
}

func renderAPIKey(w io.Writer, key *types.APIKey) {
	table := newTable(w, "Key", "Active", "Usage", "Created")

	table.Append([]string{
		key.APIKey,
		strconv.FormatBool(key.IsActive),
		humanize.Comma(key.UsageCount),
		key.CreatedAt,
	})

	table.Render()
}

func renderHealth(w io.Writer, report types.HealthReport) {
	_, _ = fmt.Fprintf(w, "%s %s at %s: %s\n", report.Service.Name, report.Service.Version, report.Service.BaseURL, report.Status)

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(w, "Check", "Status", "Time", "Message")
	for _, name := range names {
		check := report.Checks[name]
		table.Append([]string{
			name,
			string(check.Status),
			check.Duration.Round(time.Millisecond).String(),
			check.Message,
		})
	}

	table.Render()
}

// progressPrinter writes one line per progress event. Poll events are only
// printed when the task status changes.
type progressPrinter struct {
	w      io.Writer
	mu     sync.Mutex
	status map[string]types.TaskState
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, status: make(map[string]types.TaskState)}
}

func (p *progressPrinter) OnProgress(event workflow.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage == workflow.StagePoll && event.Status != "" {
		if p.status[event.FileName] == event.Status {
			return
		}
		p.status[event.FileName] = event.Status
	}

	_, _ = fmt.Fprintf(p.w, "[%d/%d] %s: %s\n", event.Index+1, event.Total, event.FileName, event.Message)
}

func renderRatings(w io.Writer, ratings []types.Rating) {
	table := newTable(w, "ID", "User", "Stars", "Review", "Created")

	for _, r := range ratings {
		review := ""
		if r.Review != nil {
			review = *r.Review
		}
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.UserNameEN,
			strings.Repeat("*", r.Rating),
			review,
			r.CreatedAt,
		})
	}

	table.Render()
}

func renderShares(w io.Writer, shares []types.Share) {
	table := newTable(w, "User ID", "User", "Can edit", "Shared")

	for _, s := range shares {
		table.Append([]string{
			strconv.FormatInt(s.SharedWithUserID, 10),
			s.SharedWithUserNameEN,
			strconv.FormatBool(s.CanEdit),
			s.SharedAt,
		})
	}

	table.Render()
}

func renderJobs(w io.Writer, list *types.JobList) {
	table := newTable(w, "Job ID", "Extractor", "File", "Status", "Cached", "Tokens", "Created", "Detail")

	for _, j := range list.Jobs {
		tokens := "-"
		if j.TotalTokens != nil {
			tokens = humanize.Comma(*j.TotalTokens)
		}
		detail := ""
		if j.ErrorMessage != nil {
			detail = *j.ErrorMessage
		}
		table.Append([]string{
			j.JobID,
			j.ExtractorName,
			j.FileName,
			j.Status,
			strconv.FormatBool(j.IsCachedResult),
			tokens,
			j.CreatedAt,
			detail,
		})
	}

	table.Render()
	_, _ = fmt.Fprintf(w, "%d of %s jobs\n", len(list.Jobs), humanize.Comma(list.Total))
}

func renderLeaderboard(w io.Writer, board *types.Leaderboard) {
	extractors := func(title string, ranks []types.ExtractorRank) {
		_, _ = fmt.Fprintf(w, "\n%s\n", title)
		table := newTable(w, "#", "Extractor", "Owner", "Usage", "Rating")
		for i, r := range ranks {
			table.Append([]string{strconv.Itoa(i + 1), r.NameEN, r.OwnerNameEN, humanize.Comma(r.UsageCount), formatRating(r.RatingAvg, r.RatingCount)})
		}
		table.Render()
	}

	users := func(title string, ranks []types.UserRank) {
		_, _ = fmt.Fprintf(w, "\n%s\n", title)
		table := newTable(w, "#", "User", "Department", "Extractors", "Usage", "Rating")
		for i, r := range ranks {
			table.Append([]string{strconv.Itoa(i + 1), r.FullNameEN, r.DepartmentEN, humanize.Comma(r.ExtractorCount), humanize.Comma(r.TotalUsage), formatRating(r.RatingAvg, r.RatingCount)})
		}
		table.Render()
	}

	departments := func(title string, ranks []types.DepartmentRank) {
		_, _ = fmt.Fprintf(w, "\n%s\n", title)
		table := newTable(w, "#", "Department", "Users", "Extractors", "Usage", "Rating")
		for i, r := range ranks {
			table.Append([]string{strconv.Itoa(i + 1), r.DepartmentEN, humanize.Comma(r.UserCount), humanize.Comma(r.ExtractorCount), humanize.Comma(r.TotalUsage), formatRating(r.RatingAvg, r.RatingCount)})
		}
		table.Render()
	}

	extractors("Top extractors by usage", board.TopExtractorsByUsage)
	extractors("Top extractors by rating", board.TopExtractorsByRating)
	users("Top users by extractor count", board.TopUsersByExtractorCount)
	users("Top users by usage", board.TopUsersByUsage)
	users("Top users by rating", board.TopUsersByRating)
	departments("Top departments by extractor count", board.TopDepartmentsByExtractorCount)
	departments("Top departments by usage", board.TopDepartmentsByUsage)
	departments("Top departments by rating", board.TopDepartmentsByRating)
}

func formatRating(avg *float64, count int64) string {
	if avg == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f (%d)", *avg, count)
}
