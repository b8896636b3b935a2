package search

import (
	"math"
	"path/filepath"
	"strings"
	"time"
)

// directoryPenalty multiplicatively reduces the score of a hit whose
// path runs through a component commonly signaling generated or
// low-value code.
var directoryPenalty = map[string]float64{
	"test":         0.7,
	"tests":        0.7,
	"mock":         0.6,
	"mocks":        0.6,
	"node_modules": 0.2,
	".git":         0.1,
	"build":        0.3,
	"dist":         0.3,
}

// ScoreInput carries every per-hit fact the ranking formula consumes.
type ScoreInput struct {
	RelPath      string
	Mtime        int64 // unix seconds
	RepoPriority int
	IsSymbolHit  bool
	Query        Query
	Now          time.Time
}

// Score computes the additive-then-penalized ranking score, in the
// documented order: filename-exact, path-substring, symbol-definition
// boost, recency (log-scaled over days), repo-priority, then
// directory penalties applied multiplicatively last.
func Score(in ScoreInput) float64 {
	var score float64

	base := strings.ToLower(filepath.Base(in.RelPath))
	pathLower := strings.ToLower(in.RelPath)
	term := strings.ToLower(in.Query.primaryTerm())

	if term != "" {
		if base == term || strings.TrimSuffix(base, filepath.Ext(base)) == term {
			score += 10
		}
		if strings.Contains(pathLower, term) {
			score += 4
		}
	}
	if in.IsSymbolHit {
		score += 6
	}

	score += recencyBoost(in.Mtime, in.Now)
	score += float64(in.RepoPriority)

	for _, comp := range strings.Split(filepath.ToSlash(pathLower), "/") {
		if penalty, ok := directoryPenalty[comp]; ok {
			score *= penalty
		}
	}
	return score
}

// recencyBoost log-scales the age in days so very recent edits stand
// out without completely swamping relevance for old-but-exact matches.
func recencyBoost(mtime int64, now time.Time) float64 {
	if mtime <= 0 {
		return 0
	}
	ageDays := now.Sub(time.Unix(mtime, 0)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 3 / math.Log2(ageDays+2)
}
