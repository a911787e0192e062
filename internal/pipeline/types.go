package pipeline

import (
	"time"
	"unicode/utf8"
)

// PushEvent is an in-window push to one ref.
type PushEvent struct {
	Repo      string    `json:"repo"`
	Ref       string    `json:"ref"`
	Head      string    `json:"head"`
	Before    string    `json:"before"`
	CreatedAt time.Time `json:"created_at"`
}

type RangeKey struct {
	Repo string
	Ref  string
}

// CommitRange spans every in-window push to one (repository, ref).
type CommitRange struct {
	Repo string `json:"repo"`
	Ref  string `json:"ref"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

func (r CommitRange) Key() RangeKey { return RangeKey{Repo: r.Repo, Ref: r.Ref} }

// DiffRecord is the sanitized unified diff of one CommitRange.
type DiffRecord struct {
	Repo string `json:"repo"`
	Ref  string `json:"ref"`
	Old  string `json:"old"`
	New  string `json:"new"`
	Diff string `json:"diff"`
}

// Len is the size of the diff text in characters.
func (d DiffRecord) Len() int { return utf8.RuneCountInString(d.Diff) }

// Batch is a group of diffs reviewed by a single model call.
type Batch []DiffRecord

func (b Batch) Len() int {
	n := 0
	for _, d := range b {
		n += d.Len()
	}
	return n
}

// BugFinding is one bug reported by the model.
type BugFinding struct {
	Repo        string `json:"repository"`
	Path        string `json:"path"`
	Old         string `json:"old"`
	New         string `json:"new"`
	Description string `json:"description"`
}
