// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import (
	"archive/zip"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

// Resource is an archive entry returned by href lookup.
type Resource struct {
	Path      string
	MediaType string
	Data      []byte
}

// safePath reports whether p stays inside the archive root.
func safePath(p string) bool {
	c := path.Clean(p)
	return !strings.HasPrefix(c, "/") && c != ".." && !strings.HasPrefix(c, "../")
}

// resolveRelative resolves href against the directory of base. It returns ""
// for absolute hrefs and for hrefs that escape the archive.
func resolveRelative(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	p := path.Clean(path.Join(path.Dir(base), href))
	if !safePath(p) {
		return ""
	}
	return p
}

// cleanHref normalizes a caller-supplied href: fragment and query dropped,
// percent-escapes decoded, leading slashes and dot segments removed. Leading
// ".." segments, which chapter-relative hrefs carry, are dropped too;
// escaped reports that there were some.
func cleanHref(href string) (name string, escaped bool, err error) {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	href = strings.TrimLeft(href, "/")
	if href == "" {
		return "", false, fmt.Errorf("%w: empty href", ErrNotFound)
	}
	c := path.Clean(href)
	for c == ".." || strings.HasPrefix(c, "../") {
		escaped = true
		c = strings.TrimPrefix(strings.TrimPrefix(c, ".."), "/")
	}
	if c == "" || c == "." {
		return "", escaped, fmt.Errorf("%w: %s", ErrUnsafePath, href)
	}
	return c, escaped, nil
}

// Resource finds an embedded file by href. Candidates are tried as the exact
// archive path, then as a path suffix of an entry, then by file name alone;
// each step matches case-sensitively before falling back to case-insensitive.
// An href climbing above the archive root that matches nothing is reported
// as ErrUnsafePath.
func (b *Book) Resource(href string) (Resource, error) {
	name, escaped, err := cleanHref(href)
	if err != nil {
		return Resource{}, err
	}
	f := b.lookup(name)
	if f == nil {
		f = b.match(func(entry string) bool { return strings.HasSuffix(entry, "/"+name) },
			func(entry string) bool { return strings.HasSuffix(strings.ToLower(entry), "/"+strings.ToLower(name)) })
	}
	if f == nil {
		base := path.Base(name)
		f = b.match(func(entry string) bool { return path.Base(entry) == base },
			func(entry string) bool { return strings.EqualFold(path.Base(entry), base) })
	}
	if f == nil && escaped {
		return Resource{}, fmt.Errorf("%w: %s", ErrUnsafePath, href)
	}
	if f == nil {
		return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, href)
	}
	data, err := readEntry(f, maxEntrySize)
	if err != nil {
		return Resource{}, err
	}
	return Resource{Path: f.Name, MediaType: b.mediaType(f.Name), Data: data}, nil
}

// match returns the first file entry satisfying exact, or failing that, fold.
func (b *Book) match(exact, fold func(string) bool) *zip.File {
	for _, pred := range []func(string) bool{exact, fold} {
		for _, f := range b.zip.File {
			if strings.HasSuffix(f.Name, "/") {
				continue
			}
			if pred(f.Name) {
				return f
			}
		}
	}
	return nil
}

func (b *Book) mediaType(name string) string {
	if mi, ok := b.byHref[name]; ok && mi.MediaType != "" {
		return mi.MediaType
	}
	for href, mi := range b.byHref {
		if strings.EqualFold(href, name) && mi.MediaType != "" {
			return mi.MediaType
		}
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
