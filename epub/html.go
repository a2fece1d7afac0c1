// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Hr: true, atom.Pre: true, atom.Section: true,
	atom.Dt: true, atom.Dd: true, atom.Figcaption: true,
}

var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
}

// Blocks splits chapter XHTML into its block-level text segments, whitespace
// collapsed and script, style and head content skipped.
func Blocks(xhtml []byte) ([]string, error) {
	z := html.NewTokenizer(bytes.NewReader(xhtml))
	var (
		blocks []string
		cur    strings.Builder
		skip   int
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			blocks = append(blocks, s)
		}
		cur.Reset()
	}
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, err
			}
			flush()
			return blocks, nil
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				skip++
			} else if skip == 0 && blockTags[a] {
				flush()
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if skip == 0 && blockTags[atom.Lookup(name)] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] && skip > 0 {
				skip--
			} else if skip == 0 && blockTags[a] {
				flush()
			}
		case html.TextToken:
			if skip == 0 {
				cur.Write(z.Text())
			}
		}
	}
}

// Text returns the plain text of chapter XHTML, one block per line.
func Text(xhtml []byte) (string, error) {
	blocks, err := Blocks(xhtml)
	if err != nil {
		return "", err
	}
	return strings.Join(blocks, "\n"), nil
}

// BodyHTML returns the inner HTML of <body> with scripts, styles and event
// handlers removed and resource URLs rewritten relative to the archive root.
// base is the archive path of the chapter.
func BodyHTML(xhtml []byte, base string) (string, error) {
	doc, err := html.Parse(bytes.NewReader(xhtml))
	if err != nil {
		return "", err
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		return "", nil
	}
	sanitize(body, base)

	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func sanitize(n *html.Node, base string) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
			n.RemoveChild(c)
			continue
		}
		kept := c.Attr[:0]
		for _, a := range c.Attr {
			if strings.HasPrefix(strings.ToLower(a.Key), "on") {
				continue
			}
			if isLinkAttr(c.DataAtom, a) {
				if hasScheme(a.Val) {
					if !safeScheme(a.Val) {
						continue
					}
				} else if p := resolveLink(base, a.Val); p != "" {
					a.Val = p
				}
			}
			kept = append(kept, a)
		}
		c.Attr = kept
		sanitize(c, base)
	}
}

func isLinkAttr(tag atom.Atom, a html.Attribute) bool {
	switch a.Key {
	case "src", "poster":
		return true
	case "href":
		// Fragment-only anchors stay as they are.
		return !strings.HasPrefix(a.Val, "#") || tag == atom.Image
	}
	return a.Namespace == "xlink" && a.Key == "href"
}

// hasScheme reports whether s starts with a URI scheme such as "https:".
func hasScheme(s string) bool {
	s = strings.TrimSpace(s)
	for i, c := range s {
		switch {
		case c == ':':
			return i > 0
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return false
}

func safeScheme(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	for _, p := range []string{"http:", "https:", "mailto:", "data:image/"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}
