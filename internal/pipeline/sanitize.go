package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxDiffChars is the largest sanitized diff sent for review.
const MaxDiffChars = 400_000

// SanitizeDiff collapses lockfile sections of raw and applies the size cap.
// It returns ok=false when the range yields nothing to review, with a
// user-facing warning when that is because the diff is too large.
func SanitizeDiff(r CommitRange, raw string, maxChars int) (rec DiffRecord, warning string, ok bool) {
	diff := CollapseLockfiles(raw)
	if strings.TrimSpace(diff) == "" {
		return DiffRecord{}, "", false
	}
	if n := utf8.RuneCountInString(diff); n > maxChars {
		return DiffRecord{}, fmt.Sprintf("Skipped %s in %s: the diff is too large to review (%d characters).", r.Ref, r.Repo, n), false
	}
	return DiffRecord{Repo: r.Repo, Ref: r.Ref, Old: r.Old, New: r.New, Diff: diff}, "", true
}
