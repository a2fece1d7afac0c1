// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import (
	"bytes"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Cover returns the cover image. It looks, in order, for the EPUB 3
// cover-image property, the EPUB 2 cover meta, a guide reference of type
// cover, an image whose id or path mentions "cover", and the first image of
// the first spine item.
func (b *Book) Cover() (Resource, error) {
	for _, find := range []func() string{
		b.coverProperty,
		b.coverMeta,
		b.coverGuide,
		b.coverHeuristic,
		b.coverFirstSpine,
	} {
		if p := find(); p != "" {
			data, err := b.ReadFile(p)
			if err != nil {
				continue
			}
			return Resource{Path: p, MediaType: b.mediaType(p), Data: data}, nil
		}
	}
	return Resource{}, ErrNoCover
}

func isImage(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

func (b *Book) coverProperty() string {
	for _, it := range b.pkg.Manifest.Items {
		if mi := b.byID[it.ID]; mi != nil && slices.Contains(mi.Properties, "cover-image") {
			return mi.Href
		}
	}
	return ""
}

func (b *Book) coverMeta() string {
	for _, m := range b.pkg.Metadata.Metas {
		if !strings.EqualFold(m.Name, "cover") || m.Content == "" {
			continue
		}
		mi, ok := b.byID[m.Content]
		if !ok {
			continue
		}
		if isImage(mi.MediaType) {
			return mi.Href
		}
		if p := b.firstImageIn(mi.Href); p != "" {
			return p
		}
	}
	return ""
}

func (b *Book) coverGuide() string {
	for _, ref := range b.pkg.Guide.References {
		if strings.EqualFold(ref.Type, "cover") {
			if p := b.firstImageIn(b.resolve(stripFragment(ref.Href))); p != "" {
				return p
			}
		}
	}
	return ""
}

func (b *Book) coverHeuristic() string {
	for _, it := range b.pkg.Manifest.Items {
		mi := b.byID[it.ID]
		if mi == nil || !isImage(mi.MediaType) {
			continue
		}
		if strings.Contains(strings.ToLower(mi.ID), "cover") || strings.Contains(strings.ToLower(mi.Href), "cover") {
			return mi.Href
		}
	}
	return ""
}

func (b *Book) coverFirstSpine() string {
	if len(b.spine) == 0 {
		return ""
	}
	return b.firstImageIn(b.spine[0].Href)
}

// firstImageIn returns the archive path of the first <img> or SVG <image> in an XHTML entry.
func (b *Book) firstImageIn(xhtmlPath string) string {
	if xhtmlPath == "" {
		return ""
	}
	data, err := b.ReadFile(xhtmlPath)
	if err != nil {
		return ""
	}
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if !hasAttr || (a != atom.Img && a != atom.Image) {
				continue
			}
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				k := string(key)
				if len(val) > 0 && ((a == atom.Img && k == "src") || (a == atom.Image && (k == "href" || k == "xlink:href"))) {
					return resolveRelative(xhtmlPath, string(val))
				}
			}
		}
	}
}
