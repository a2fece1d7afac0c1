// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

type opfPackage struct {
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
	Guide struct {
		References []struct {
			Type string `xml:"type,attr"`
			Href string `xml:"href,attr"`
		} `xml:"reference"`
	} `xml:"guide"`
}

type dcElement struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
	Role  string `xml:"role,attr"`
}

type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
	Value    string `xml:",chardata"`
}

type opfMetadata struct {
	Titles       []dcElement `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators     []dcElement `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages    []dcElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers  []dcElement `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publishers   []dcElement `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Dates        []dcElement `xml:"http://purl.org/dc/elements/1.1/ date"`
	Descriptions []dcElement `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subjects     []dcElement `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Rights       []dcElement `xml:"http://purl.org/dc/elements/1.1/ rights"`
	Metas        []opfMeta   `xml:"meta"`
}

// namedEntities maps the HTML entities that show up in real-world package
// files to numeric references encoding/xml understands.
var namedEntities = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;", "hellip": "&#8230;",
	"lsquo": "&#8216;", "rsquo": "&#8217;", "ldquo": "&#8220;", "rdquo": "&#8221;",
	"copy": "&#169;", "reg": "&#174;", "trade": "&#8482;", "eacute": "&#233;",
}

var entityPattern = regexp.MustCompile(`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|eacute);`)

func replaceEntities(data []byte) []byte {
	return entityPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		if r, ok := namedEntities[strings.ToLower(string(m[1:len(m)-1]))]; ok {
			return []byte(r)
		}
		return m
	})
}

func parseOPF(data []byte) (*opfPackage, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(replaceEntities(data), &pkg); err != nil {
		return nil, fmt.Errorf("%w: parse package document: %v", ErrInvalidEPUB, err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

func first(els []dcElement) string {
	for _, e := range els {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func all(els []dcElement) []string {
	var out []string
	for _, e := range els {
		if v := strings.TrimSpace(e.Value); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (m opfMetadata) convert(version string) Metadata {
	md := Metadata{
		Version:     version,
		Title:       first(m.Titles),
		Language:    first(m.Languages),
		Identifiers: all(m.Identifiers),
		Publisher:   first(m.Publishers),
		Date:        first(m.Dates),
		Description: first(m.Descriptions),
		Subjects:    all(m.Subjects),
		Rights:      first(m.Rights),
	}

	// EPUB 3 expresses creator roles through <meta refines="#id" property="role">.
	roles := make(map[string]string)
	for _, meta := range m.Metas {
		switch {
		case meta.Property == "role" && strings.HasPrefix(meta.Refines, "#"):
			roles[meta.Refines[1:]] = strings.TrimSpace(meta.Value)
		case meta.Property == "dcterms:modified":
			md.Modified = strings.TrimSpace(meta.Value)
		}
	}
	for _, c := range m.Creators {
		name := strings.TrimSpace(c.Value)
		if name == "" {
			continue
		}
		role := c.Role
		if role == "" {
			role = roles[c.ID]
		}
		if role != "" && role != "aut" {
			continue
		}
		md.Authors = append(md.Authors, name)
	}
	return md
}
