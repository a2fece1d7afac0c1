// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfium

import (
	"bytes"
	"fmt"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/responses"
	"github.com/ledongthuc/pdf"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/logger"
)

// document is one PDF open in the PDFium instance. The pure-Go reader over
// the same bytes is created on first text or metadata access.
type document struct {
	id     docengine.Identity
	inst   pdfium.Pdfium
	handle references.FPDF_DOCUMENT
	data   []byte
	pages  int

	reader    *pdf.Reader
	readerErr error
	readerSet bool
}

func (d *document) ItemCount() int { return d.pages }

func (d *document) checkPage(item int) error {
	if item < 0 || item >= d.pages {
		return docengine.Errorf(docengine.KindNotFound, "page %d out of range [0,%d)", item, d.pages)
	}
	return nil
}

func (d *document) pdfReader() (*pdf.Reader, error) {
	if !d.readerSet {
		d.readerSet = true
		d.readerErr = protect(func() error {
			r, err := pdf.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
			if err != nil {
				return err
			}
			d.reader = r
			return nil
		})
		if d.readerErr != nil {
			logger.Warn("PDF structure unreadable", "document", d.id.ID, "error", d.readerErr.Error())
		}
	}
	if d.readerErr != nil {
		return nil, docengine.Errorf(docengine.KindParse, "read pdf structure: %v", d.readerErr)
	}
	return d.reader, nil
}

// protect turns a parser panic into an error; malformed content streams can
// index past their operands.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return fn()
}

func (d *document) Dimensions(item int) (docengine.Dimensions, error) {
	if err := d.checkPage(item); err != nil {
		return docengine.Dimensions{}, err
	}
	size, err := d.inst.FPDF_GetPageSizeByIndex(&requests.FPDF_GetPageSizeByIndex{
		Document: d.handle,
		Index:    item,
	})
	if err != nil {
		return docengine.Dimensions{}, docengine.Errorf(docengine.KindParse, "page size: %v", err)
	}
	return docengine.Dimensions{Width: size.Width, Height: size.Height}, nil
}

func (d *document) Render(req docengine.RenderRequest) (docengine.RenderResult, error) {
	if err := d.checkPage(req.Item); err != nil {
		return docengine.RenderResult{}, err
	}
	if req.Format == docengine.OutputHTML {
		return docengine.RenderResult{}, docengine.Errorf(docengine.KindInvalidContent, "PDF pages cannot be rendered as %s", req.Format)
	}
	dpi := docengine.ScaleDPI(req.Scale)
	rendered, err := d.inst.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: dpi,
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: d.handle,
				Index:    req.Item,
			},
		},
	})
	if err != nil {
		return docengine.RenderResult{}, docengine.Errorf(docengine.KindRender, "render page %d at %d dpi: %v", req.Item, dpi, err)
	}
	// The bitmap lives in WebAssembly memory until Cleanup.
	defer rendered.Cleanup()
	return docengine.EncodeImage(rendered.Result.Image, req.Clip, float64(dpi)/docengine.PointsPerInch, req.Format)
}

func (d *document) Thumbnail(item, maxSize int) (docengine.RenderResult, error) {
	dim, err := d.Dimensions(item)
	if err != nil {
		return docengine.RenderResult{}, err
	}
	return d.Render(docengine.RenderRequest{
		DocumentID: d.id.ID,
		Item:       item,
		Scale:      docengine.ThumbnailScale(dim, maxSize),
		Format:     docengine.OutputPNG,
	})
}

// TOC returns the outline. Entries whose destination is not a page keep Item -1.
func (d *document) TOC() ([]docengine.TOCEntry, error) {
	resp, err := d.inst.GetBookmarks(&requests.GetBookmarks{Document: d.handle})
	if err != nil {
		return nil, docengine.Errorf(docengine.KindParse, "read outline: %v", err)
	}
	return convertBookmarks(resp.Bookmarks), nil
}

func convertBookmarks(in []responses.GetBookmarksBookmark) []docengine.TOCEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]docengine.TOCEntry, 0, len(in))
	for _, b := range in {
		e := docengine.TOCEntry{Title: b.Title, Item: -1}
		if b.DestInfo != nil {
			e.Item = b.DestInfo.PageIndex
		}
		e.Children = convertBookmarks(b.Children)
		out = append(out, e)
	}
	return out
}

// Resource always fails: PDF has no addressable embedded resources.
func (d *document) Resource(href string) (docengine.Resource, error) {
	return docengine.Resource{}, docengine.Errorf(docengine.KindNotFound, "PDF documents have no resource %q", href)
}

func (d *document) Close() error {
	if d.inst == nil {
		return nil
	}
	_, err := d.inst.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.handle})
	d.inst, d.reader = nil, nil
	if err != nil {
		return fmt.Errorf("close pdf %s: %w", d.id.ID, err)
	}
	return nil
}
