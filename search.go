// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"math"
	"strings"
	"unicode"
)

// searchText finds query in the structured text of one item. Offsets are rune
// offsets into st.Text; matches do not overlap.
func searchText(st StructuredText, query string, opts SearchOptions, radius int) []SearchHit {
	needle := []rune(query)
	if len(needle) == 0 {
		return nil
	}
	hay := []rune(st.Text)
	if !opts.CaseSensitive {
		needle = foldRunes(needle)
		hay = foldRunes(hay)
	}

	var hits []SearchHit
	for i := 0; i+len(needle) <= len(hay); {
		if !runesEqual(hay[i:i+len(needle)], needle) {
			i++
			continue
		}
		end := i + len(needle)
		if opts.WholeWord && !(isBoundary(hay, i-1) && isBoundary(hay, end)) {
			i++
			continue
		}
		hits = append(hits, SearchHit{
			Item:    st.Item,
			Start:   i,
			End:     end,
			Snippet: snippet(st.Text, i, end, radius),
			Boxes:   matchBoxes(st.Runs, i, end),
		})
		i = end
	}
	return hits
}

// foldRunes lowercases rune by rune so offsets stay aligned with the original text.
func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isBoundary(rs []rune, i int) bool {
	if i < 0 || i >= len(rs) {
		return true
	}
	r := rs[i]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// snippet returns the match with up to radius runes of context on each side,
// whitespace collapsed.
func snippet(text string, start, end, radius int) string {
	rs := []rune(text)
	from := max(0, start-radius)
	to := min(len(rs), end+radius)
	s := strings.Join(strings.Fields(string(rs[from:to])), " ")
	if from > 0 {
		s = "…" + s
	}
	if to < len(rs) {
		s += "…"
	}
	return s
}

// matchBoxes returns one box per line touched by [start,end): the union of
// the boxes of every run overlapping the match on that line.
func matchBoxes(runs []TextRun, start, end int) []Rect {
	var boxes []Rect
	for _, r := range runs {
		if r.Box.Empty() {
			continue
		}
		rStart := r.Offset
		rEnd := r.Offset + len([]rune(r.Text))
		if rEnd <= start || rStart >= end {
			continue
		}
		merged := false
		for i, b := range boxes {
			if sameLine(b, r.Box) {
				boxes[i] = b.Union(r.Box)
				merged = true
				break
			}
		}
		if !merged {
			boxes = append(boxes, r.Box)
		}
	}
	return boxes
}

func sameLine(a, b Rect) bool {
	tol := math.Min(a.Height, b.Height) / 2
	return math.Abs(a.Y-b.Y) <= tol
}
