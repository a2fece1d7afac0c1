// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package epub reads the structure of EPUB 2 and EPUB 3 archives: package
// metadata, spine, table of contents, chapter text and embedded resources.
// A Book is not safe for concurrent use.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/sassoftware/viya-doc-engine/logger"
)

// maxEntrySize caps the decompressed size of a single archive entry.
const maxEntrySize int64 = 256 << 20

const (
	containerPath  = "META-INF/container.xml"
	encryptionPath = "META-INF/encryption.xml"
	fairPlayPath   = "META-INF/sinf.xml"
)

// Metadata is the Dublin Core subset of the package document.
type Metadata struct {
	Version     string
	Title       string
	Authors     []string
	Language    string
	Identifiers []string
	Publisher   string
	Date        string
	Description string
	Subjects    []string
	Rights      string
	Modified    string
}

// SpineItem is one entry of the reading order. Href is archive-root relative.
type SpineItem struct {
	ID        string
	Href      string
	MediaType string
	Linear    bool
}

type manifestItem struct {
	ID         string
	Href       string // archive-root relative
	MediaType  string
	Properties []string
}

// Book is a parsed EPUB archive held in memory.
type Book struct {
	zip      *zip.Reader
	exact    map[string]*zip.File
	lower    map[string]*zip.File
	opfPath  string
	opfDir   string
	pkg      *opfPackage
	byID     map[string]*manifestItem
	byHref   map[string]*manifestItem
	spine    []SpineItem
	metadata Metadata
	toc      []TOCItem
	obfusc   bool
	warnings []string
}

// Parse reads an EPUB from memory.
func Parse(data []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open zip: %v", ErrInvalidEPUB, err)
	}
	b := &Book{zip: zr}
	b.buildIndex()

	if err := b.checkEncryption(); err != nil {
		return nil, err
	}
	if b.opfPath, err = b.findPackage(); err != nil {
		return nil, err
	}
	b.opfDir = path.Dir(b.opfPath)

	raw, err := b.ReadFile(b.opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read package %s: %v", ErrInvalidEPUB, b.opfPath, err)
	}
	if b.pkg, err = parseOPF(raw); err != nil {
		return nil, err
	}
	b.buildManifest()
	b.metadata = b.pkg.Metadata.convert(b.pkg.Version)
	b.toc = b.parseTOC()

	logger.Debug(fmt.Sprintf("EPUB parsed: package=%s version=%s spine=%d toc=%d",
		b.opfPath, b.metadata.Version, len(b.spine), len(b.toc)), true)
	return b, nil
}

func (b *Book) buildIndex() {
	b.exact = make(map[string]*zip.File, len(b.zip.File))
	b.lower = make(map[string]*zip.File, len(b.zip.File))
	for _, f := range b.zip.File {
		if _, ok := b.exact[f.Name]; !ok {
			b.exact[f.Name] = f
		}
		l := strings.ToLower(f.Name)
		if _, ok := b.lower[l]; !ok {
			b.lower[l] = f
		}
	}
}

// lookup finds an entry by exact name, then case-insensitively.
func (b *Book) lookup(name string) *zip.File {
	if f, ok := b.exact[name]; ok {
		return f
	}
	return b.lower[strings.ToLower(name)]
}

// ReadFile returns the decompressed content of an archive entry.
func (b *Book) ReadFile(name string) ([]byte, error) {
	f := b.lookup(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return readEntry(f, maxEntrySize)
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if !safePath(f.Name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
	}
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("epub: entry %s too large: %d bytes (max %d)", f.Name, f.UncompressedSize64, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	// The declared size may lie; read one byte past the limit to catch it.
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("epub: entry %s exceeds %d bytes", f.Name, limit)
	}
	return stripBOM(data), nil
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
}

type container struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// findPackage locates the OPF through container.xml, falling back to the
// first .opf entry in the archive.
func (b *Book) findPackage() (string, error) {
	if f := b.lookup(containerPath); f != nil {
		data, err := readEntry(f, maxEntrySize)
		if err != nil {
			return "", fmt.Errorf("%w: read container: %v", ErrInvalidEPUB, err)
		}
		var c container
		if err := xml.Unmarshal(data, &c); err != nil {
			return "", fmt.Errorf("%w: parse container: %v", ErrInvalidEPUB, err)
		}
		fallback := ""
		for _, rf := range c.RootFiles {
			p := strings.TrimSpace(rf.FullPath)
			if p == "" {
				continue
			}
			if strings.EqualFold(rf.MediaType, "application/oebps-package+xml") {
				return p, nil
			}
			if fallback == "" {
				fallback = p
			}
		}
		if fallback != "" {
			return fallback, nil
		}
		b.warnings = append(b.warnings, "container.xml lists no rootfile")
	}
	for _, f := range b.zip.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no package document", ErrInvalidEPUB)
}

type encryption struct {
	Data []struct {
		Method struct {
			Algorithm string `xml:"Algorithm,attr"`
		} `xml:"EncryptionMethod"`
		KeyInfo struct {
			Inner string `xml:",innerxml"`
		} `xml:"KeyInfo"`
	} `xml:"EncryptedData"`
}

var fontObfuscation = map[string]bool{
	"http://www.idpf.org/2008/embedding": true,
	"http://ns.adobe.com/pdf/enc#RC":     true,
}

// checkEncryption rejects DRM-protected archives. Font obfuscation alone is allowed.
func (b *Book) checkEncryption() error {
	if b.lookup(fairPlayPath) != nil {
		return ErrDRMProtected
	}
	f := b.lookup(encryptionPath)
	if f == nil {
		return nil
	}
	data, err := readEntry(f, maxEntrySize)
	if err != nil {
		return err
	}
	var enc encryption
	if err := xml.Unmarshal(data, &enc); err != nil {
		return ErrDRMProtected
	}
	for _, d := range enc.Data {
		if !fontObfuscation[d.Method.Algorithm] {
			return ErrDRMProtected
		}
	}
	b.obfusc = len(enc.Data) > 0
	return nil
}

// resolve turns an href relative to the package document into an archive path.
func (b *Book) resolve(href string) string {
	if href == "" {
		return ""
	}
	return resolveRelative(b.opfPath, href)
}

func (b *Book) buildManifest() {
	items := b.pkg.Manifest.Items
	b.byID = make(map[string]*manifestItem, len(items))
	b.byHref = make(map[string]*manifestItem, len(items))
	for _, it := range items {
		mi := &manifestItem{
			ID:         it.ID,
			Href:       b.resolve(it.Href),
			MediaType:  it.MediaType,
			Properties: strings.Fields(it.Properties),
		}
		b.byID[it.ID] = mi
		if mi.Href != "" {
			b.byHref[mi.Href] = mi
		}
	}
	for _, ref := range b.pkg.Spine.ItemRefs {
		mi, ok := b.byID[ref.IDRef]
		if !ok {
			b.warnings = append(b.warnings, fmt.Sprintf("spine references unknown manifest item %q", ref.IDRef))
			continue
		}
		b.spine = append(b.spine, SpineItem{
			ID:        mi.ID,
			Href:      mi.Href,
			MediaType: mi.MediaType,
			Linear:    ref.Linear != "no",
		})
	}
}

// Metadata returns the package metadata.
func (b *Book) Metadata() Metadata {
	md := b.metadata
	md.Authors = append([]string(nil), md.Authors...)
	md.Identifiers = append([]string(nil), md.Identifiers...)
	md.Subjects = append([]string(nil), md.Subjects...)
	return md
}

// Spine returns the reading order.
func (b *Book) Spine() []SpineItem { return append([]SpineItem(nil), b.spine...) }

// Obfuscated reports whether fonts in the archive are obfuscated.
func (b *Book) Obfuscated() bool { return b.obfusc }

// Warnings lists non-fatal problems found while parsing.
func (b *Book) Warnings() []string { return append([]string(nil), b.warnings...) }

// Chapter returns the raw XHTML of spine item i.
func (b *Book) Chapter(i int) (SpineItem, []byte, error) {
	if i < 0 || i >= len(b.spine) {
		return SpineItem{}, nil, fmt.Errorf("%w: spine item %d of %d", ErrNotFound, i, len(b.spine))
	}
	it := b.spine[i]
	data, err := b.ReadFile(it.Href)
	if err != nil {
		return it, nil, err
	}
	return it, data, nil
}
