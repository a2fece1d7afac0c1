// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package mupdf

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/epub"
	"github.com/sassoftware/viya-doc-engine/logger"
)

// document is an EPUB opened in one Context. Items are spine entries.
type document struct {
	id   docengine.Identity
	data []byte
	book *epub.Book

	layout *fitz.Document
}

func (d *document) ItemCount() int { return len(d.book.Spine()) }

func (d *document) checkItem(item int) error {
	if n := d.ItemCount(); item < 0 || item >= n {
		return docengine.Errorf(docengine.KindNotFound, "spine item %d out of range [0,%d)", item, n)
	}
	return nil
}

func (d *document) Metadata() (docengine.Metadata, error) {
	m := d.book.Metadata()
	md := docengine.Metadata{
		Format:       docengine.FormatEPUB,
		Version:      m.Version,
		Title:        m.Title,
		Authors:      m.Authors,
		Subject:      strings.Join(m.Subjects, ", "),
		Language:     m.Language,
		Publisher:    m.Publisher,
		Identifiers:  m.Identifiers,
		CreationDate: m.Date,
		ModDate:      m.Modified,
		ItemCount:    d.ItemCount(),
		Extra:        map[string]string{},
	}
	if m.Description != "" {
		md.Extra["description"] = m.Description
	}
	if m.Rights != "" {
		md.Extra["rights"] = m.Rights
	}
	if d.book.Obfuscated() {
		md.Extra["epub:obfuscatedFonts"] = "true"
	}
	return md, nil
}

func (d *document) TOC() ([]docengine.TOCEntry, error) {
	return convertTOC(d.book.TOC()), nil
}

func convertTOC(in []epub.TOCItem) []docengine.TOCEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]docengine.TOCEntry, len(in))
	for i, it := range in {
		out[i] = docengine.TOCEntry{
			Title:    it.Title,
			Href:     it.Href,
			Item:     it.Spine,
			Children: convertTOC(it.Children),
		}
	}
	return out
}

func (d *document) chapter(item int) ([]byte, string, error) {
	if err := d.checkItem(item); err != nil {
		return nil, "", err
	}
	it, data, err := d.book.Chapter(item)
	if err != nil {
		return nil, "", mapError(err)
	}
	return data, it.Href, nil
}

func (d *document) Text(item int) (string, error) {
	data, _, err := d.chapter(item)
	if err != nil {
		return "", err
	}
	text, err := epub.Text(data)
	if err != nil {
		return "", docengine.Errorf(docengine.KindParse, "chapter %d: %v", item, err)
	}
	return text, nil
}

// StructuredText has one run per block element. Reflowable chapters have no
// fixed geometry, so boxes stay empty.
func (d *document) StructuredText(item int) (docengine.StructuredText, error) {
	data, _, err := d.chapter(item)
	if err != nil {
		return docengine.StructuredText{}, err
	}
	blocks, err := epub.Blocks(data)
	if err != nil {
		return docengine.StructuredText{}, docengine.Errorf(docengine.KindParse, "chapter %d: %v", item, err)
	}
	st := docengine.StructuredText{Item: item, Runs: make([]docengine.TextRun, 0, len(blocks))}
	var (
		sb     strings.Builder
		offset int
	)
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte('\n')
			offset++
		}
		st.Runs = append(st.Runs, docengine.TextRun{Text: b, Offset: offset})
		sb.WriteString(b)
		offset += utf8.RuneCountInString(b)
	}
	st.Text = sb.String()
	return st, nil
}

func (d *document) Resource(href string) (docengine.Resource, error) {
	r, err := d.book.Resource(href)
	if err != nil {
		return docengine.Resource{}, mapError(err)
	}
	return docengine.Resource{Href: r.Path, MediaType: r.MediaType, Data: r.Data}, nil
}

func (d *document) Render(req docengine.RenderRequest) (docengine.RenderResult, error) {
	if req.Format == docengine.OutputHTML {
		data, href, err := d.chapter(req.Item)
		if err != nil {
			return docengine.RenderResult{}, err
		}
		body, err := epub.BodyHTML(data, href)
		if err != nil {
			return docengine.RenderResult{}, docengine.Errorf(docengine.KindRender, "chapter %d body: %v", req.Item, err)
		}
		return docengine.RenderResult{Data: []byte(body), ContentType: req.Format.ContentType()}, nil
	}

	if err := d.checkItem(req.Item); err != nil {
		return docengine.RenderResult{}, err
	}
	layout, err := d.reflowed()
	if err != nil {
		return docengine.RenderResult{}, err
	}
	return rasterize(layout, req.Item, req.Scale, req.Clip, req.Format)
}

// Dimensions is the size of the reflowed page with the item's index.
func (d *document) Dimensions(item int) (docengine.Dimensions, error) {
	if err := d.checkItem(item); err != nil {
		return docengine.Dimensions{}, err
	}
	layout, err := d.reflowed()
	if err != nil {
		return docengine.Dimensions{}, err
	}
	return bound(layout, item)
}

// Thumbnail of item 0 prefers the cover image. Every other item, and item 0
// of a book without a usable cover, is the reflowed page with the item's index.
func (d *document) Thumbnail(item, maxSize int) (docengine.RenderResult, error) {
	if err := d.checkItem(item); err != nil {
		return docengine.RenderResult{}, err
	}
	if item == 0 {
		if cover, err := d.book.Cover(); err == nil {
			res, err := coverThumbnail(cover, maxSize)
			if err == nil {
				return res, nil
			}
			logger.Warn("cover thumbnail failed, using first page", "document", d.id.ID, "cover", cover.Path, "error", err.Error())
		}
	}
	layout, err := d.reflowed()
	if err != nil {
		return docengine.RenderResult{}, err
	}
	dim, err := bound(layout, item)
	if err != nil {
		return docengine.RenderResult{}, err
	}
	return rasterize(layout, item, docengine.ThumbnailScale(dim, maxSize), nil, docengine.OutputPNG)
}

// reflowed lays the book out with MuPDF on first use.
func (d *document) reflowed() (*fitz.Document, error) {
	if d.layout != nil {
		return d.layout, nil
	}
	doc, err := fitz.NewFromMemory(d.data)
	if err != nil {
		return nil, docengine.Errorf(docengine.KindParse, "MuPDF layout: %v", err)
	}
	d.layout = doc
	logger.Debug(fmt.Sprintf("EPUB laid out by MuPDF: id=%s pages=%d spine=%d", d.id.ID, doc.NumPage(), d.ItemCount()), true)
	return doc, nil
}

func (d *document) Close() error {
	if d.layout == nil {
		return nil
	}
	err := d.layout.Close()
	d.layout = nil
	if err != nil {
		return fmt.Errorf("close MuPDF layout of %s: %w", d.id.ID, err)
	}
	return nil
}
