// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

// Fuzzy matches ranked at or above this distance are rejected.
const maxFuzzyRank = 10

var searchSeparators = strings.NewReplacer(
	".", " ", "_", " ", "-", " ",
	"[", " ", "]", " ", "(", " ", ")", " ", "{", " ", "}", " ",
)

// foldText lower-cases s and strips combining marks, so "Amélie" and "AMELIE" compare equal.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

func normalizeForSearch(text string) string {
	normalized := searchSeparators.Replace(foldText(text))
	return strings.Join(strings.Fields(normalized), " ")
}

type searchQuery struct {
	raw        string
	lower      string
	normalized string
	words      []string
	glob       bool
}

func newSearchQuery(raw string) *searchQuery {
	q := &searchQuery{raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return q
	}

	q.lower = strings.ToLower(trimmed)
	q.normalized = normalizeForSearch(trimmed)
	q.words = strings.Fields(q.normalized)
	q.glob = strings.ContainsAny(trimmed, "*?[")
	return q
}

// match runs the ladder: exact substring, normalized substring, all words,
// fuzzy on the name, then the glob when the query has metacharacters.
func (q *searchQuery) match(info *models.TorrentInfo) (bool, error) {
	if q.lower == "" {
		return true, nil
	}

	nameLower := strings.ToLower(info.Name)
	if strings.Contains(nameLower, q.lower) || strings.Contains(strings.ToLower(info.ID), q.lower) {
		return true, nil
	}
	for _, tag := range info.Tags {
		if strings.Contains(strings.ToLower(tag.Name), q.lower) {
			return true, nil
		}
	}

	if q.normalized == "" {
		return q.matchGlob(info), nil
	}

	nameNormalized := normalizeForSearch(info.Name)
	tagsNormalized := normalizeForSearch(strings.Join(info.TagNames(), " "))
	if strings.Contains(nameNormalized, q.normalized) || strings.Contains(tagsNormalized, q.normalized) {
		return true, nil
	}

	if len(q.words) > 1 {
		all := nameNormalized + " " + tagsNormalized
		found := true
		for _, word := range q.words {
			if !strings.Contains(all, word) {
				found = false
				break
			}
		}
		if found {
			return true, nil
		}
	}

	if fuzzy.MatchNormalizedFold(q.normalized, nameNormalized) &&
		fuzzy.RankMatchNormalizedFold(q.normalized, nameNormalized) < maxFuzzyRank {
		return true, nil
	}

	return q.matchGlob(info), nil
}

// matchGlob reports false for malformed patterns; the text checks already ran.
func (q *searchQuery) matchGlob(info *models.TorrentInfo) bool {
	if !q.glob {
		return false
	}
	if ok, _ := filepath.Match(q.lower, strings.ToLower(info.Name)); ok {
		return true
	}
	for _, tag := range info.Tags {
		if ok, _ := filepath.Match(q.lower, strings.ToLower(tag.Name)); ok {
			return true
		}
	}
	return false
}
