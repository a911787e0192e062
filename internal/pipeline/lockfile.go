package pipeline

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

const sectionHeader = "diff --git "

// lockfileNames are generated dependency manifests whose changes are noise
// for a bug review.
var lockfileNames = map[string]bool{
	"package-lock.json":   true,
	"npm-shrinkwrap.json": true,
	"yarn.lock":           true,
	"pnpm-lock.yaml":      true,
	"bun.lock":            true,
	"bun.lockb":           true,
	"deno.lock":           true,
	"Cargo.lock":          true,
	"poetry.lock":         true,
	"Pipfile.lock":        true,
	"uv.lock":             true,
	"composer.lock":       true,
	"Gemfile.lock":        true,
	"go.sum":              true,
	"pubspec.lock":        true,
	"flake.lock":          true,
	"mix.lock":            true,
	"Podfile.lock":        true,
	"packages.lock.json":  true,
}

// IsLockfile reports whether the file at p is a known lockfile.
func IsLockfile(p string) bool {
	return lockfileNames[path.Base(p)]
}

type diffSection struct {
	path string
	text string
}

// CollapseLockfiles replaces every per-file section of a unified diff that
// touches a lockfile with a one-line placeholder. Other sections, and any
// text before the first section, are kept byte for byte.
func CollapseLockfiles(diff string) string {
	var b strings.Builder
	b.Grow(len(diff))
	for _, s := range splitSections(diff) {
		if s.path != "" && IsLockfile(s.path) {
			if p := lockfilePlaceholder(s.path); len(p) < len(s.text) {
				b.WriteString(p)
				continue
			}
		}
		b.WriteString(s.text)
	}
	return b.String()
}

func lockfilePlaceholder(p string) string {
	return fmt.Sprintf("%sa/%s b/%s\n(lockfile changes omitted)\n", sectionHeader, p, p)
}

// splitSections cuts a diff at every line starting with "diff --git ".
// Concatenating the texts gives back the input.
func splitSections(diff string) []diffSection {
	var sections []diffSection
	var cur strings.Builder
	curPath := ""
	flush := func() {
		if cur.Len() > 0 {
			sections = append(sections, diffSection{path: curPath, text: cur.String()})
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		if strings.HasPrefix(line, sectionHeader) {
			flush()
			curPath = sectionPath(line)
		}
		cur.WriteString(line)
	}
	flush()
	return sections
}

// sectionPath extracts the post-image path from a "diff --git a/X b/Y"
// header line.
func sectionPath(header string) string {
	rest := strings.TrimRight(strings.TrimPrefix(header, sectionHeader), "\r\n")
	// Git quotes paths holding special bytes, e.g. "b/caf\303\251.lock".
	if strings.HasSuffix(rest, `"`) {
		if i := strings.LastIndex(rest, ` "b/`); i >= 0 {
			if p, err := strconv.Unquote(rest[i+1:]); err == nil {
				return strings.TrimPrefix(p, "b/")
			}
		}
	}
	// Unrenamed files repeat the same path, which disambiguates paths that
	// themselves contain " b/".
	if n := len(rest); strings.HasPrefix(rest, "a/") && (n-5)%2 == 0 && n >= 7 {
		half := (n - 5) / 2
		a, b := rest[2:2+half], rest[2+half:]
		if b == " b/"+a {
			return a
		}
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return rest[i+3:]
	}
	return ""
}
