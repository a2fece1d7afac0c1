// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfium

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	docengine "github.com/sassoftware/viya-doc-engine"
)

// wordGap is the horizontal gap, as a fraction of the font size, that splits
// two glyphs on one line into separate words.
const wordGap = 0.25

func (d *document) Text(item int) (string, error) {
	if err := d.checkPage(item); err != nil {
		return "", err
	}
	r, err := d.pdfReader()
	if err != nil {
		return "", err
	}
	var text string
	err = protect(func() error {
		p := r.Page(item + 1)
		if p.V.IsNull() {
			return nil
		}
		var err error
		text, err = p.GetPlainText(nil)
		return err
	})
	if err != nil {
		return "", docengine.Errorf(docengine.KindParse, "extract text of page %d: %v", item, err)
	}
	return text, nil
}

func (d *document) StructuredText(item int) (docengine.StructuredText, error) {
	dim, err := d.Dimensions(item)
	if err != nil {
		return docengine.StructuredText{}, err
	}
	r, err := d.pdfReader()
	if err != nil {
		return docengine.StructuredText{}, err
	}
	var glyphs []pdf.Text
	err = protect(func() error {
		p := r.Page(item + 1)
		if !p.V.IsNull() {
			glyphs = p.Content().Text
		}
		return nil
	})
	if err != nil {
		return docengine.StructuredText{}, docengine.Errorf(docengine.KindParse, "read content of page %d: %v", item, err)
	}
	text, runs := groupWords(glyphs, dim.Height)
	return docengine.StructuredText{
		Item:   item,
		Width:  dim.Width,
		Height: dim.Height,
		Text:   text,
		Runs:   runs,
	}, nil
}

// groupWords joins positioned glyphs into word runs. Words on one line are
// separated by a space and lines by a newline. Glyph coordinates have a
// bottom-left origin; run boxes are flipped to top-left using pageHeight.
func groupWords(glyphs []pdf.Text, pageHeight float64) (string, []docengine.TextRun) {
	var (
		sb      strings.Builder
		runs    []docengine.TextRun
		word    []pdf.Text
		offset  int
		sep     string
		prev    pdf.Text
		hasPrev bool
	)
	atLeastSpace := func() {
		if sep == "" {
			sep = " "
		}
	}
	flush := func() {
		if len(word) == 0 {
			return
		}
		if offset > 0 && sep != "" {
			sb.WriteString(sep)
			offset += utf8.RuneCountInString(sep)
		}
		sep = ""
		var (
			w    strings.Builder
			box  docengine.Rect
			size float64
		)
		for _, g := range word {
			w.WriteString(g.S)
			box = box.Union(glyphBox(g, pageHeight))
			size = math.Max(size, g.FontSize)
		}
		s := w.String()
		runs = append(runs, docengine.TextRun{Text: s, Offset: offset, Box: box, FontSize: size})
		sb.WriteString(s)
		offset += utf8.RuneCountInString(s)
		word = word[:0]
	}

	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			flush()
			atLeastSpace()
			continue
		}
		if hasPrev {
			tol := math.Max(math.Max(prev.FontSize, g.FontSize), 1) / 2
			switch {
			case math.Abs(g.Y-prev.Y) > tol:
				flush()
				sep = "\n"
			case g.X-(prev.X+prev.W) > math.Max(prev.FontSize, 1)*wordGap:
				flush()
				atLeastSpace()
			}
		}
		word = append(word, g)
		prev, hasPrev = g, true
	}
	flush()
	return sb.String(), runs
}

func glyphBox(g pdf.Text, pageHeight float64) docengine.Rect {
	return docengine.Rect{
		X:      g.X,
		Y:      pageHeight - g.Y - g.FontSize,
		Width:  g.W,
		Height: g.FontSize,
	}
}
