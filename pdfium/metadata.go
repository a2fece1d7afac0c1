// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfium

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klippa-app/go-pdfium/requests"
	"github.com/ledongthuc/pdf"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/logger"
)

// infoFields are the common fields of the /Info dictionary and of XMP.
type infoFields struct {
	Title, Author, Subject, Keywords, Creator, Producer, CreationDate, ModDate string
}

// Minimal XML models to pull common XMP fields in a namespace
type xmpPacket struct {
	XMLName xml.Name `xml:"xmpmeta"`
	RDF     rdfRDF   `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
}

type rdfRDF struct {
	Descriptions []rdfDescription `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
}

type rdfDescription struct {
	// dc:title / dc:description (rdf:Alt)
	Title       altString `xml:"http://purl.org/dc/elements/1.1/ title"`
	Description altString `xml:"http://purl.org/dc/elements/1.1/ description"`

	// dc:creator (rdf:Seq)
	Creator seqString `xml:"http://purl.org/dc/elements/1.1/ creator"`

	// dc:language (rdf:Bag)
	Language bagString `xml:"http://purl.org/dc/elements/1.1/ language"`

	PDFProducer string `xml:"http://ns.adobe.com/pdf/1.3/ Producer"`
	PDFKeywords string `xml:"http://ns.adobe.com/pdf/1.3/ Keywords"`

	XMPCreatorTool string `xml:"http://ns.adobe.com/xap/1.0/ CreatorTool"`
	XMPCreateDate  string `xml:"http://ns.adobe.com/xap/1.0/ CreateDate"`
	XMPModifyDate  string `xml:"http://ns.adobe.com/xap/1.0/ ModifyDate"`
}

type altString struct {
	Alt struct {
		LI []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
	} `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Alt"`
}

func (a altString) First() string { return firstItem(a.Alt.LI) }

type seqString struct {
	Seq struct {
		LI []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
	} `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Seq"`
}

func (s seqString) All() []string {
	var out []string
	for _, li := range s.Seq.LI {
		if v := strings.TrimSpace(li); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type bagString struct {
	Bag struct {
		LI []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
	} `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Bag"`
}

func (b bagString) First() string { return firstItem(b.Bag.LI) }

func firstItem(items []string) string {
	if len(items) > 0 {
		return strings.TrimSpace(items[0])
	}
	return ""
}

type xmpFields struct {
	Title, Subject, Keywords, CreatorTool, Producer, CreateDate, ModifyDate, Language string
	Creators                                                                         []string
}

// prefer returns a if non-empty after trimming, otherwise b.
func prefer(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// readInfo extracts the /Info dictionary.
func readInfo(r *pdf.Reader) infoFields {
	info := r.Trailer().Key("Info")
	return infoFields{
		Title:        info.Key("Title").Text(),
		Author:       info.Key("Author").Text(),
		Subject:      info.Key("Subject").Text(),
		Keywords:     info.Key("Keywords").Text(),
		Creator:      info.Key("Creator").Text(),
		Producer:     info.Key("Producer").Text(),
		CreationDate: info.Key("CreationDate").Text(),
		ModDate:      info.Key("ModDate").Text(),
	}
}

// readXMP returns the raw XMP XML from /Root/Metadata (empty string if absent).
func readXMP(r *pdf.Reader) (string, error) {
	md := r.Trailer().Key("Root").Key("Metadata")
	if md.Kind() != pdf.Stream {
		return "", nil
	}
	rc := md.Reader()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseXMPWithXML tries to parse XMP XML using encoding/xml into xmpPacket.
func parseXMPWithXML(x string) (xmpFields, bool) {
	var pkt xmpPacket
	dec := xml.NewDecoder(strings.NewReader(x))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	if err := dec.Decode(&pkt); err != nil {
		return xmpFields{}, false
	}

	var f xmpFields
	for _, d := range pkt.RDF.Descriptions {
		if t := d.Title.First(); t != "" {
			f.Title = t
		}
		if c := d.Creator.All(); len(c) > 0 {
			f.Creators = c
		}
		if s := d.Description.First(); s != "" {
			f.Subject = s
		}
		if l := d.Language.First(); l != "" {
			f.Language = l
		}
		if k := strings.TrimSpace(d.PDFKeywords); k != "" {
			f.Keywords = k
		}
		if p := strings.TrimSpace(d.PDFProducer); p != "" {
			f.Producer = p
		}
		if ct := strings.TrimSpace(d.XMPCreatorTool); ct != "" {
			f.CreatorTool = ct
		}
		if cd := strings.TrimSpace(d.XMPCreateDate); cd != "" {
			f.CreateDate = cd
		}
		if md := strings.TrimSpace(d.XMPModifyDate); md != "" {
			f.ModifyDate = md
		}
	}
	return f, true
}

// parseXMPFallback performs a simple tag-search when XML parsing fails.
func parseXMPFallback(xmp string) xmpFields {
	get := func(cands ...string) string {
		for _, t := range cands {
			open, close := "<"+t+">", "</"+t+">"
			if i := strings.Index(xmp, open); i >= 0 {
				if j := strings.Index(xmp[i+len(open):], close); j >= 0 {
					return strings.TrimSpace(stripXMLTags(xmp[i+len(open) : i+len(open)+j]))
				}
			}
		}
		return ""
	}
	f := xmpFields{
		Title:       get("dc:title", "pdf:Title", "xmp:Title"),
		Subject:     get("dc:description", "pdf:Subject"),
		Keywords:    get("pdf:Keywords", "xmp:Keywords"),
		CreatorTool: get("xmp:CreatorTool"),
		Producer:    get("pdf:Producer"),
		CreateDate:  get("xmp:CreateDate"),
		ModifyDate:  get("xmp:ModifyDate"),
		Language:    get("dc:language"),
	}
	if c := get("dc:creator", "pdf:Author", "xmp:Author"); c != "" {
		f.Creators = []string{c}
	}
	return f
}

// stripXMLTags removes simple XML tags from a string.
func stripXMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch r {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// headerVersion returns the version from the %PDF- header line.
func headerVersion(data []byte) string {
	line := string(data[:min(len(data), 1024)])
	i := strings.Index(line, "%PDF-")
	if i < 0 {
		return ""
	}
	line = line[i+len("%PDF-"):]
	if j := strings.IndexAny(line, "\r\n %"); j >= 0 {
		line = line[:j]
	}
	return strings.TrimSpace(line)
}

// Standard Security P bits (ISO 32000-1 §7.6.3.2); a set bit grants the permission.
var permissionBits = []struct {
	name string
	bit  uint
}{
	{"print", 2},
	{"modify", 3},
	{"extractContent", 4},
	{"modifyAnnotations", 5},
	{"fillInForm", 8},
	{"extractForAccessibility", 9},
	{"assembleDocument", 10},
	{"printFaithful", 11},
}

// permissions reports each access permission. Unencrypted files grant all.
func permissions(r *pdf.Reader) map[string]bool {
	out := make(map[string]bool, len(permissionBits))
	enc := r.Trailer().Key("Encrypt")
	if enc.Kind() != pdf.Dict {
		for _, pb := range permissionBits {
			out[pb.name] = true
		}
		return out
	}
	p := uint32(enc.Key("P").Int64())
	for _, pb := range permissionBits {
		out[pb.name] = p&(1<<pb.bit) != 0
	}
	// Older revisions fold form filling into annotation and high-quality
	// printing into printing.
	out["fillInForm"] = out["fillInForm"] || out["modifyAnnotations"]
	out["printFaithful"] = out["printFaithful"] || out["print"]
	return out
}

// containsNonEmbeddedFont returns true if any page references a non-embedded font.
func containsNonEmbeddedFont(r *pdf.Reader) bool {
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		fd := p.Resources().Key("Font")
		if fd.Kind() != pdf.Dict {
			continue
		}
		for _, fname := range fd.Keys() {
			desc := p.Font(fname).V.Key("FontDescriptor")
			if desc.Kind() != pdf.Dict {
				return true
			}
			if desc.Key("FontFile").Kind() == pdf.Stream ||
				desc.Key("FontFile2").Kind() == pdf.Stream ||
				desc.Key("FontFile3").Kind() == pdf.Stream {
				continue
			}
			return true
		}
	}
	return false
}

// mergeMetadata combines /Info and XMP, XMP taking precedence.
func mergeMetadata(info infoFields, xf xmpFields) docengine.Metadata {
	md := docengine.Metadata{
		Title:        prefer(xf.Title, info.Title),
		Subject:      prefer(xf.Subject, info.Subject),
		Keywords:     prefer(xf.Keywords, info.Keywords),
		Creator:      prefer(xf.CreatorTool, info.Creator),
		Producer:     prefer(xf.Producer, info.Producer),
		CreationDate: prefer(xf.CreateDate, info.CreationDate),
		ModDate:      prefer(xf.ModifyDate, info.ModDate),
		Language:     xf.Language,
		Authors:      xf.Creators,
	}
	if len(md.Authors) == 0 && strings.TrimSpace(info.Author) != "" {
		md.Authors = []string{strings.TrimSpace(info.Author)}
	}
	return md
}

// Metadata reports Info and XMP fields with XMP taking precedence, plus the
// structural facts of the file. When the structure cannot be parsed PDFium's
// view of the Info dictionary is used instead.
func (d *document) Metadata() (docengine.Metadata, error) {
	r, err := d.pdfReader()
	if err != nil {
		md := mergeMetadata(d.nativeInfo(), xmpFields{})
		d.structural(&md)
		md.Extra["pdf:structureError"] = err.Error()
		return md, nil
	}

	var md docengine.Metadata
	err = protect(func() error {
		xmpXML, err := readXMP(r)
		if err != nil {
			return err
		}
		var xf xmpFields
		if xmpXML != "" {
			if got, ok := parseXMPWithXML(xmpXML); ok {
				xf = got
			} else {
				xf = parseXMPFallback(xmpXML)
			}
		}
		md = mergeMetadata(readInfo(r), xf)
		d.structural(&md)

		md.Encrypted = r.Trailer().Key("Encrypt").Kind() == pdf.Dict
		md.Extra["pdf:hasXMP"] = strconv.FormatBool(xmpXML != "")
		md.Extra["pdf:hasCollection"] = strconv.FormatBool(!r.Trailer().Key("Root").Key("Collection").IsNull())
		md.Extra["pdf:containsNonEmbeddedFont"] = strconv.FormatBool(containsNonEmbeddedFont(r))
		for name, ok := range permissions(r) {
			md.Extra["access_permission:"+name] = strconv.FormatBool(ok)
		}
		return nil
	})
	if err != nil {
		return docengine.Metadata{}, docengine.Errorf(docengine.KindParse, "read metadata: %v", err)
	}
	logger.Debug(fmt.Sprintf("PDF metadata read: id=%s title=%q", d.id.ID, md.Title), true)
	return md, nil
}

func (d *document) structural(md *docengine.Metadata) {
	md.Format = docengine.FormatPDF
	md.Version = headerVersion(d.data)
	md.ItemCount = d.pages
	if md.Extra == nil {
		md.Extra = make(map[string]string)
	}
}

var infoTags = []string{"Title", "Author", "Subject", "Keywords", "Creator", "Producer", "CreationDate", "ModDate"}

// nativeInfo reads the Info dictionary through PDFium.
func (d *document) nativeInfo() infoFields {
	vals := make(map[string]string, len(infoTags))
	for _, tag := range infoTags {
		resp, err := d.inst.FPDF_GetMetaText(&requests.FPDF_GetMetaText{Document: d.handle, Tag: tag})
		if err == nil {
			vals[tag] = resp.Value
		}
	}
	return infoFields{
		Title:        vals["Title"],
		Author:       vals["Author"],
		Subject:      vals["Subject"],
		Keywords:     vals["Keywords"],
		Creator:      vals["Creator"],
		Producer:     vals["Producer"],
		CreationDate: vals["CreationDate"],
		ModDate:      vals["ModDate"],
	}
}
