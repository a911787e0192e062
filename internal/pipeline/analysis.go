package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"dailybugs-backend/internal/llm"
)

// ShortSHA abbreviates a commit id to seven characters.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// BuildPrompt renders a batch as one prompt: every diff labeled with its
// repository, ref and abbreviated commit ids, then the review instructions.
func BuildPrompt(batch Batch, spec llm.PromptSpec) string {
	var b strings.Builder
	for _, d := range batch {
		fmt.Fprintf(&b, "<diff repository=%q ref=%q old=%q new=%q>\n", d.Repo, d.Ref, ShortSHA(d.Old), ShortSHA(d.New))
		b.WriteString(d.Diff)
		if !strings.HasSuffix(d.Diff, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("</diff>\n\n")
	}
	b.WriteString(spec.Instructions())
	return b.String()
}

// ExtractFindings parses the JSON array spanning the first '[' through the
// last ']' of a model reply. Prose around the array is ignored.
func ExtractFindings(text string) ([]BugFinding, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrModelOutputMalformed)
	}
	findings := []BugFinding{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &findings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelOutputMalformed, err)
	}
	return findings, nil
}

// ExpandCommits replaces the abbreviated commit ids the model echoes back
// with the full ids of the matching diff in batch, so links resolve.
func ExpandCommits(findings []BugFinding, batch Batch) []BugFinding {
	out := make([]BugFinding, len(findings))
	for i, f := range findings {
		out[i] = f
		for _, d := range batch {
			if d.Repo != f.Repo {
				continue
			}
			if sameCommit(f.New, d.New) && (f.Old == "" || sameCommit(f.Old, d.Old)) {
				out[i].Old, out[i].New = d.Old, d.New
				break
			}
		}
	}
	return out
}

func sameCommit(short, full string) bool {
	return len(short) >= 4 && strings.HasPrefix(full, short)
}
