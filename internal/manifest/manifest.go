// Package manifest ingests package-manifest files (package.json) into
// repo metadata: description and keywords→tags.
// This is intentionally narrow — one manifest shape, one well-formed
// JSON grammar — so it reads straight off stdlib encoding/json rather
// than a manifest-detection framework.
package manifest

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Filename is the one manifest basename this ingestor recognizes.
const Filename = "package.json"

// packageJSON mirrors the handful of package.json fields repo metadata
// cares about. Every other field in a real package.json is ignored.
type packageJSON struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Update is the repo-metadata delta a manifest file contributes. A zero
// Update (IsZero true) means the manifest had nothing usable.
type Update struct {
	Description string
	Tags        []string
}

// IsZero reports whether the update carries no usable metadata.
func (u Update) IsZero() bool {
	return u.Description == "" && len(u.Tags) == 0
}

// IsManifestPath reports whether path names a manifest this package
// ingests, matched by basename so callers can pass either a relative or
// root-scoped path.
func IsManifestPath(path string) bool {
	return filepath.Base(path) == Filename
}

// Parse extracts a repo-metadata Update from raw package.json content.
// Malformed JSON yields a zero Update rather than an error: a bad manifest
// must never fail the indexing pipeline that stumbled onto it, it
// simply contributes nothing.
func Parse(content string) Update {
	var pkg packageJSON
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return Update{}
	}

	var tags []string
	for _, kw := range pkg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		tags = append(tags, kw)
	}

	return Update{
		Description: strings.TrimSpace(pkg.Description),
		Tags:        tags,
	}
}

// Merge applies an Update onto an existing description/tags pair the
// way repeated scans are meant to behave: a non-empty manifest field
// replaces the prior value outright (the manifest is the source of
// truth for these two fields), tags are deduplicated case-insensitively
// while preserving first-seen casing and order.
func Merge(description string, tags []string, u Update) (string, []string) {
	if u.Description != "" {
		description = u.Description
	}
	if len(u.Tags) == 0 {
		return description, tags
	}

	seen := make(map[string]bool, len(tags)+len(u.Tags))
	merged := make([]string, 0, len(tags)+len(u.Tags))
	for _, t := range tags {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, t)
	}
	for _, t := range u.Tags {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, t)
	}
	return description, merged
}
