// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package mupdf

import (
	"errors"
	"strings"

	"github.com/gen2brain/go-fitz"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/epub"
)

func rasterize(doc *fitz.Document, page int, scale float64, clip *docengine.Rect, format docengine.OutputFormat) (docengine.RenderResult, error) {
	if n := doc.NumPage(); page >= n {
		return docengine.RenderResult{}, docengine.Errorf(docengine.KindNotFound, "reflowed layout has %d pages, page %d requested", n, page)
	}
	dpi := docengine.ScaleDPI(scale)
	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return docengine.RenderResult{}, docengine.Errorf(docengine.KindRender, "render page %d at %d dpi: %v", page, dpi, err)
	}
	return docengine.EncodeImage(img, clip, float64(dpi)/docengine.PointsPerInch, format)
}

func bound(doc *fitz.Document, page int) (docengine.Dimensions, error) {
	if n := doc.NumPage(); page >= n {
		return docengine.Dimensions{}, docengine.Errorf(docengine.KindNotFound, "reflowed layout has %d pages, page %d requested", n, page)
	}
	r, err := doc.Bound(page)
	if err != nil {
		return docengine.Dimensions{}, docengine.Errorf(docengine.KindParse, "bound of page %d: %v", page, err)
	}
	return docengine.Dimensions{Width: float64(r.Dx()), Height: float64(r.Dy())}, nil
}

// coverThumbnail returns a PNG or JPEG cover unchanged when it already fits
// maxSize; anything else is scaled down by MuPDF.
func coverThumbnail(cover epub.Resource, maxSize int) (docengine.RenderResult, error) {
	if format, ok := rasterFormat(cover.MediaType); ok {
		if w, h, err := docengine.DecodeImageSize(cover.Data); err == nil && max(w, h) <= maxSize {
			return docengine.RenderResult{
				Data:        cover.Data,
				ContentType: format.ContentType(),
				Width:       w,
				Height:      h,
			}, nil
		}
	}
	doc, err := fitz.NewFromMemory(cover.Data)
	if err != nil {
		return docengine.RenderResult{}, docengine.Errorf(docengine.KindRender, "open cover %s: %v", cover.Path, err)
	}
	defer doc.Close()
	dim, err := bound(doc, 0)
	if err != nil {
		return docengine.RenderResult{}, err
	}
	return rasterize(doc, 0, docengine.ThumbnailScale(dim, maxSize), nil, docengine.OutputPNG)
}

func rasterFormat(mediaType string) (docengine.OutputFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return docengine.OutputPNG, true
	case "image/jpeg", "image/jpg":
		return docengine.OutputJPEG, true
	}
	return "", false
}

// mapError classifies archive errors into engine kinds.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, epub.ErrNotFound), errors.Is(err, epub.ErrNoCover):
		return docengine.Errorf(docengine.KindNotFound, "%w", err)
	case errors.Is(err, epub.ErrUnsafePath):
		return docengine.Errorf(docengine.KindInvalidContent, "%w", err)
	default:
		return docengine.Errorf(docengine.KindParse, "%w", err)
	}
}
