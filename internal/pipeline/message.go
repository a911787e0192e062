package pipeline

import (
	"fmt"
	"strings"
)

const warningPrefix = "⚠️ "

// RunStats counts what a run gathered; a test run reports them instead of
// asking the model.
type RunStats struct {
	Events  int `json:"events"`
	Repos   int `json:"repos"`
	Ranges  int `json:"ranges"`
	Diffs   int `json:"diffs"`
	Batches int `json:"batches"`
}

// DistinctRepos counts the repositories among ranges.
func DistinctRepos(ranges []CommitRange) int {
	seen := make(map[string]struct{}, len(ranges))
	for _, r := range ranges {
		seen[r.Repo] = struct{}{}
	}
	return len(seen)
}

func RenderTestSummary(s RunStats) string {
	return fmt.Sprintf("Created %d %s, made of %d %s from %d %s across %d %s.",
		s.Batches, plural(s.Batches, "batch", "batches"),
		s.Diffs, plural(s.Diffs, "diff", "diffs"),
		s.Events, plural(s.Events, "commit", "commits"),
		s.Repos, plural(s.Repos, "repo", "repos"),
	)
}

// Format selects how findings are rendered for a destination.
type Format int

const (
	// Markdown renders inline links for chat clients.
	Markdown Format = iota
	// PlainText renders bare URLs for plain-text email.
	PlainText
)

// RenderFindings formats one bullet per finding; no findings render as "".
func RenderFindings(findings []BugFinding, format Format) string {
	lines := make([]string, 0, len(findings))
	for _, f := range findings {
		desc := strings.TrimSpace(f.Description)
		if format == PlainText {
			lines = append(lines, fmt.Sprintf("- %s: %s\n  File: %s\n  Diff: %s",
				shortRepo(f.Repo), desc, fileURL(f), changeURL(f)))
			continue
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s ([file](<%s>), [diff](<%s>))",
			shortRepo(f.Repo), desc, fileURL(f), changeURL(f)))
	}
	return strings.Join(lines, "\n")
}

// AppendWarnings adds one warning line per entry after body.
func AppendWarnings(body string, warnings []string) string {
	if len(warnings) == 0 {
		return body
	}
	lines := make([]string, len(warnings))
	for i, w := range warnings {
		lines[i] = warningPrefix + w
	}
	block := strings.Join(lines, "\n")
	if body == "" {
		return block
	}
	return body + "\n\n" + block
}

func shortRepo(repo string) string {
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}

func fileURL(f BugFinding) string {
	return fmt.Sprintf("https://github.com/%s/blob/%s/%s", f.Repo, f.New, strings.TrimPrefix(f.Path, "/"))
}

// changeURL links the compare view, or the single commit when the range
// started at a branch creation.
func changeURL(f BugFinding) string {
	if f.Old == "" || strings.Trim(f.Old, "0") == "" {
		return fmt.Sprintf("https://github.com/%s/commit/%s", f.Repo, f.New)
	}
	return fmt.Sprintf("https://github.com/%s/compare/%s...%s", f.Repo, f.Old, f.New)
}
