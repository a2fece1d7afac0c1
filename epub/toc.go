// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TOCItem is a table-of-contents node. Href is archive-root relative and may
// carry a fragment; Spine is the spine index it points at, or -1.
type TOCItem struct {
	Title    string
	Href     string
	Spine    int
	Children []TOCItem
}

// TOC returns the table of contents.
func (b *Book) TOC() []TOCItem { return cloneTOC(b.toc) }

func cloneTOC(in []TOCItem) []TOCItem {
	if in == nil {
		return nil
	}
	out := make([]TOCItem, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].Children = cloneTOC(in[i].Children)
	}
	return out
}

// parseTOC prefers the EPUB 3 navigation document and falls back to the NCX.
// A missing or broken TOC is recorded as a warning, never an error.
func (b *Book) parseTOC() []TOCItem {
	spine := make(map[string]int, len(b.spine))
	for i, it := range b.spine {
		if _, ok := spine[it.Href]; !ok {
			spine[it.Href] = i
		}
	}

	var toc []TOCItem
	if nav := b.navItem(); nav != nil {
		data, err := b.ReadFile(nav.Href)
		if err == nil {
			toc, err = parseNav(data, nav.Href)
		}
		if err != nil {
			b.warnings = append(b.warnings, fmt.Sprintf("navigation document: %v", err))
		}
	}
	if len(toc) == 0 {
		if ncx, ok := b.byID[b.pkg.Spine.Toc]; ok {
			data, err := b.ReadFile(ncx.Href)
			if err == nil {
				toc, err = parseNCX(data, ncx.Href)
			}
			if err != nil {
				b.warnings = append(b.warnings, fmt.Sprintf("NCX: %v", err))
			}
		}
	}
	assignSpine(toc, spine)
	return toc
}

func (b *Book) navItem() *manifestItem {
	for _, it := range b.pkg.Manifest.Items {
		if slices.Contains(strings.Fields(it.Properties), "nav") {
			return b.byID[it.ID]
		}
	}
	return nil
}

func assignSpine(items []TOCItem, spine map[string]int) {
	for i := range items {
		items[i].Spine = -1
		if idx, ok := spine[stripFragment(items[i].Href)]; ok {
			items[i].Spine = idx
		}
		assignSpine(items[i].Children, spine)
	}
}

func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}
	return href
}

// resolveLink resolves a TOC link relative to its document, keeping the fragment.
func resolveLink(base, href string) string {
	frag := ""
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href, frag = href[:i], href[i:]
	}
	if href == "" {
		if frag == "" {
			return ""
		}
		return base + frag
	}
	p := resolveRelative(base, href)
	if p == "" {
		return ""
	}
	return p + frag
}

type ncxPoint struct {
	Label    string     `xml:"navLabel>text"`
	Src      string     `xml:"content>src,attr"`
	Children []ncxPoint `xml:"navPoint"`
}

type ncxDoc struct {
	Points []ncxPoint `xml:"navMap>navPoint"`
}

func parseNCX(data []byte, base string) ([]TOCItem, error) {
	var doc ncxDoc
	if err := xml.Unmarshal(replaceEntities(data), &doc); err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}
	var convert func([]ncxPoint) []TOCItem
	convert = func(points []ncxPoint) []TOCItem {
		var out []TOCItem
		for _, p := range points {
			out = append(out, TOCItem{
				Title:    strings.TrimSpace(p.Label),
				Href:     resolveLink(base, strings.TrimSpace(p.Src)),
				Children: convert(p.Children),
			})
		}
		return out
	}
	return convert(doc.Points), nil
}

func parseNav(data []byte, base string) ([]TOCItem, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse navigation document: %w", err)
	}
	nav := findNav(doc)
	if nav == nil {
		return nil, nil
	}
	ol := findElement(nav, atom.Ol)
	if ol == nil {
		return nil, nil
	}
	return parseNavList(ol, base), nil
}

// findNav returns the <nav epub:type="toc"> element, or the first <nav>.
func findNav(root *html.Node) *html.Node {
	var firstNav, toc *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if toc != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			if firstNav == nil {
				firstNav = n
			}
			if slices.Contains(strings.Fields(attr(n, "epub:type")), "toc") {
				toc = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if toc != nil {
		return toc
	}
	return firstNav
}

func parseNavList(ol *html.Node, base string) []TOCItem {
	var out []TOCItem
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		var item TOCItem
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.A:
				if item.Href == "" {
					item.Href = resolveLink(base, attr(c, "href"))
					item.Title = strings.Join(strings.Fields(textContent(c)), " ")
				}
			case atom.Span:
				if item.Title == "" {
					item.Title = strings.Join(strings.Fields(textContent(c)), " ")
				}
			case atom.Ol:
				item.Children = parseNavList(c, base)
			}
		}
		out = append(out, item)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key || (a.Namespace != "" && a.Namespace+":"+a.Key == key) {
			return a.Val
		}
	}
	return ""
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
