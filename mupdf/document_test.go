// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package mupdf

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/epub"
)

// buildEPUB zips files behind a stored mimetype entry, the layout readers
// use to recognize an EPUB.
func buildEPUB(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = io.WriteString(fw, "application/epub+zip")
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

var bookFiles = map[string]string{
	"META-INF/container.xml": `<container><rootfiles><rootfile full-path="OPS/book.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`,
	"OPS/book.opf": `<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Small Book</dc:title>
    <dc:creator>Author One</dc:creator>
    <dc:language>fr</dc:language>
    <dc:subject>Fiction</dc:subject>
    <dc:subject>Short</dc:subject>
    <dc:description>A very small book.</dc:description>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="c1" href="text/c1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/c2.xhtml" media-type="application/xhtml+xml"/>
    <item id="pic" href="img/pic.png" media-type="image/png"/>
  </manifest>
  <spine><itemref idref="c1"/><itemref idref="c2"/></spine>
</package>`,
	"OPS/nav.xhtml": `<html><body><nav epub:type="toc"><ol>
  <li><a href="text/c1.xhtml">Début</a></li>
  <li><a href="text/c2.xhtml#end">Fin</a></li>
</ol></nav></body></html>`,
	"OPS/text/c1.xhtml": `<html><body><h1>Début</h1><p>Il était une fois.</p><img src="../img/pic.png"/></body></html>`,
	"OPS/text/c2.xhtml": `<html><body><p>La fin.</p></body></html>`,
	"OPS/img/pic.png":   "not really a png",
}

func openBook(t *testing.T) docengine.Document {
	t.Helper()
	nc, err := NewContextFactory()()
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })

	doc, err := nc.Open(docengine.Identity{ID: "book", Format: docengine.FormatEPUB}, buildEPUB(t, bookFiles))
	require.NoError(t, err)
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestOpen_Invalid(t *testing.T) {
	nc, err := NewContextFactory()()
	require.NoError(t, err)

	_, err = nc.Open(docengine.Identity{ID: "bad"}, []byte("garbage"))
	require.Error(t, err)
	assert.Equal(t, docengine.KindParse, docengine.KindOf(err))
	assert.True(t, errors.Is(err, epub.ErrInvalidEPUB))

	require.NoError(t, nc.Close())
	_, err = nc.Open(docengine.Identity{ID: "late"}, buildEPUB(t, bookFiles))
	assert.Equal(t, docengine.KindFatalInit, docengine.KindOf(err))
}

func TestDocument_Metadata(t *testing.T) {
	doc := openBook(t)
	assert.Equal(t, 2, doc.ItemCount())

	md, err := doc.Metadata()
	require.NoError(t, err)
	assert.Equal(t, docengine.FormatEPUB, md.Format)
	assert.Equal(t, "3.0", md.Version)
	assert.Equal(t, "Small Book", md.Title)
	assert.Equal(t, []string{"Author One"}, md.Authors)
	assert.Equal(t, "fr", md.Language)
	assert.Equal(t, "Fiction, Short", md.Subject)
	assert.Equal(t, "A very small book.", md.Extra["description"])
	assert.Equal(t, 2, md.ItemCount)
}

func TestDocument_TOC(t *testing.T) {
	toc, err := openBook(t).TOC()
	require.NoError(t, err)
	assert.Equal(t, []docengine.TOCEntry{
		{Title: "Début", Href: "OPS/text/c1.xhtml", Item: 0},
		{Title: "Fin", Href: "OPS/text/c2.xhtml#end", Item: 1},
	}, toc)
}

func TestDocument_Text(t *testing.T) {
	doc := openBook(t)

	text, err := doc.Text(0)
	require.NoError(t, err)
	assert.Equal(t, "Début\nIl était une fois.", text)

	st, err := doc.StructuredText(0)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Item)
	assert.Equal(t, text, st.Text)
	require.Len(t, st.Runs, 2)
	assert.Equal(t, 0, st.Runs[0].Offset)
	// Five runes of "Début" plus the newline.
	assert.Equal(t, 6, st.Runs[1].Offset)
	assert.True(t, st.Runs[1].Box.Empty())

	_, err = doc.Text(2)
	assert.Equal(t, docengine.KindNotFound, docengine.KindOf(err))
}

func TestDocument_RenderHTML(t *testing.T) {
	doc := openBook(t)

	res, err := doc.Render(docengine.RenderRequest{Item: 0, Scale: 1, Format: docengine.OutputHTML})
	require.NoError(t, err)
	assert.Equal(t, "application/xhtml+xml", res.ContentType)
	assert.Contains(t, string(res.Data), `src="OPS/img/pic.png"`)

	_, err = doc.Render(docengine.RenderRequest{Item: -1, Scale: 1, Format: docengine.OutputHTML})
	assert.Equal(t, docengine.KindNotFound, docengine.KindOf(err))
}

func TestDocument_Resource(t *testing.T) {
	doc := openBook(t)

	r, err := doc.Resource("pic.png")
	require.NoError(t, err)
	assert.Equal(t, "OPS/img/pic.png", r.Href)
	assert.Equal(t, "image/png", r.MediaType)

	_, err = doc.Resource("missing.css")
	assert.Equal(t, docengine.KindNotFound, docengine.KindOf(err))

	_, err = doc.Resource("../../secret")
	assert.Equal(t, docengine.KindInvalidContent, docengine.KindOf(err))
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.Equal(t, docengine.KindNotFound, docengine.KindOf(mapError(epub.ErrNoCover)))
	assert.Equal(t, docengine.KindParse, docengine.KindOf(mapError(epub.ErrDRMProtected)))
	assert.Equal(t, docengine.KindParse, docengine.KindOf(mapError(errors.New("boom"))))
}
