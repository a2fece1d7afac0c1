// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildEPUB writes files into an in-memory archive, mimetype first.
func buildEPUB(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	write := func(name, content string) {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	if mt, ok := files["mimetype"]; ok {
		write("mimetype", mt)
	}
	for name, content := range files {
		if name != "mimetype" {
			write(name, content)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF3 = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Test Book</dc:title>
    <dc:creator id="c1">Ada Writer</dc:creator>
    <dc:creator id="c2">Ed Itor</dc:creator>
    <meta refines="#c2" property="role">edt</meta>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
    <dc:publisher>Test Press</dc:publisher>
    <dc:subject>Testing</dc:subject>
    <meta property="dcterms:modified">2024-01-01T00:00:00Z</meta>
  </metadata>
  <manifest>
    <item id="nav" href="Text/nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ch1" href="Text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="Text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="Styles/style.css" media-type="text/css"/>
    <item id="img" href="Images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2" linear="no"/>
  </spine>
</package>`

const testNav = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="ch1.xhtml">Chapter One</a>
        <ol><li><a href="ch1.xhtml#s1">Section 1.1</a></li></ol>
      </li>
      <li><a href="ch2.xhtml">Chapter Two</a></li>
      <li><a href="missing.xhtml">Nowhere</a></li>
    </ol>
  </nav>
</body>
</html>`

const testChapter1 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Ignored title</title><link rel="stylesheet" href="../Styles/style.css"/></head>
<body onload="evil()">
  <h1>Chapter One</h1>
  <p>Hello <b>world</b>.</p>
  <script>alert("x")</script>
  <p>Second   paragraph<br/>after break</p>
  <img src="../Images/cover.jpg" alt="cover"/>
  <a href="javascript:alert(1)">bad</a>
</body>
</html>`

const testChapter2 = `<html><body><p>Chapter two text.</p></body></html>`

func testBook(t *testing.T) *Book {
	t.Helper()
	data := buildEPUB(t, map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF3,
		"OEBPS/Text/nav.xhtml":   testNav,
		"OEBPS/Text/ch1.xhtml":   testChapter1,
		"OEBPS/Text/ch2.xhtml":   testChapter2,
		"OEBPS/Styles/style.css": "body { margin: 0 }",
		"OEBPS/Images/cover.jpg": "JPEGDATA",
	})
	b, err := Parse(data)
	require.NoError(t, err)
	return b
}

func TestParse_MetadataAndSpine(t *testing.T) {
	b := testBook(t)

	md := b.Metadata()
	assert.Equal(t, "3.0", md.Version)
	assert.Equal(t, "The Test Book", md.Title)
	assert.Equal(t, []string{"Ada Writer"}, md.Authors)
	assert.Equal(t, "en", md.Language)
	assert.Equal(t, []string{"urn:uuid:1234"}, md.Identifiers)
	assert.Equal(t, "Test Press", md.Publisher)
	assert.Equal(t, "2024-01-01T00:00:00Z", md.Modified)

	spine := b.Spine()
	require.Len(t, spine, 2)
	assert.Equal(t, "OEBPS/Text/ch1.xhtml", spine[0].Href)
	assert.True(t, spine[0].Linear)
	assert.False(t, spine[1].Linear)
}

func TestParse_NavTOC(t *testing.T) {
	toc := testBook(t).TOC()
	require.Len(t, toc, 3)

	assert.Equal(t, "Chapter One", toc[0].Title)
	assert.Equal(t, "OEBPS/Text/ch1.xhtml", toc[0].Href)
	assert.Equal(t, 0, toc[0].Spine)
	require.Len(t, toc[0].Children, 1)
	assert.Equal(t, "OEBPS/Text/ch1.xhtml#s1", toc[0].Children[0].Href)
	assert.Equal(t, 0, toc[0].Children[0].Spine)

	assert.Equal(t, 1, toc[1].Spine)
	assert.Equal(t, -1, toc[2].Spine)
}

func TestParse_NCXFallback(t *testing.T) {
	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Old &amp; Gold &mdash; Two</dc:title>
    <dc:creator opf:role="aut">Writer</dc:creator>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="a" href="a.html" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx"><itemref idref="a"/></spine>
</package>`
	ncx := `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/">
  <navMap>
    <navPoint id="p1"><navLabel><text>Start</text></navLabel><content src="a.html#top"/></navPoint>
  </navMap>
</ncx>`
	data := buildEPUB(t, map[string]string{
		"content.opf": opf,
		"toc.ncx":     ncx,
		"a.html":      "<html><body><p>A</p></body></html>",
	})

	b, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "2.0", b.Metadata().Version)
	assert.Equal(t, "Old & Gold — Two", b.Metadata().Title)
	assert.Equal(t, []string{"Writer"}, b.Metadata().Authors)

	toc := b.TOC()
	require.Len(t, toc, 1)
	assert.Equal(t, "Start", toc[0].Title)
	assert.Equal(t, "a.html#top", toc[0].Href)
	assert.Equal(t, 0, toc[0].Spine)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("not a zip"))
	assert.ErrorIs(t, err, ErrInvalidEPUB)

	_, err = Parse(buildEPUB(t, map[string]string{"readme.txt": "hi"}))
	assert.ErrorIs(t, err, ErrInvalidEPUB)
}

func TestParse_DRM(t *testing.T) {
	enc := `<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://www.w3.org/2001/04/xmlenc#aes128-cbc"/>
  </EncryptedData>
</encryption>`
	data := buildEPUB(t, map[string]string{
		"META-INF/container.xml":  testContainer,
		"META-INF/encryption.xml": enc,
		"OEBPS/content.opf":       testOPF3,
	})
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrDRMProtected)
}

func TestResource_Lookup(t *testing.T) {
	b := testBook(t)

	tests := []struct {
		name string
		href string
		path string
	}{
		{"exact path", "OEBPS/Styles/style.css", "OEBPS/Styles/style.css"},
		{"file name only", "style.css", "OEBPS/Styles/style.css"},
		{"path suffix", "Styles/style.css", "OEBPS/Styles/style.css"},
		{"case insensitive", "STYLES/Style.CSS", "OEBPS/Styles/style.css"},
		{"fragment and query stripped", "Images/cover.jpg?v=2#frag", "OEBPS/Images/cover.jpg"},
		{"percent escaped", "Images/cover%2Ejpg", "OEBPS/Images/cover.jpg"},
		{"leading slash", "/OEBPS/Images/cover.jpg", "OEBPS/Images/cover.jpg"},
		{"chapter relative", "../Styles/style.css", "OEBPS/Styles/style.css"},
		{"chapter relative name only", "../../style.css", "OEBPS/Styles/style.css"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := b.Resource(tt.href)
			require.NoError(t, err)
			assert.Equal(t, tt.path, r.Path)
			assert.NotEmpty(t, r.Data)
		})
	}

	css, err := b.Resource("style.css")
	require.NoError(t, err)
	assert.Equal(t, "text/css", css.MediaType)
	assert.Equal(t, "body { margin: 0 }", string(css.Data))
}

func TestResource_Errors(t *testing.T) {
	b := testBook(t)

	_, err := b.Resource("../../etc/passwd")
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = b.Resource("..")
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = b.Resource("nothing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.Resource("#only-fragment")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestText_Blocks(t *testing.T) {
	blocks, err := Blocks([]byte(testChapter1))
	require.NoError(t, err)
	assert.Equal(t, []string{"Chapter One", "Hello world.", "Second paragraph", "after break", "bad"}, blocks)

	text, err := Text([]byte(testChapter1))
	require.NoError(t, err)
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "Ignored title")
}

func TestBodyHTML_RewritesAndSanitizes(t *testing.T) {
	body, err := BodyHTML([]byte(testChapter1), "OEBPS/Text/ch1.xhtml")
	require.NoError(t, err)

	assert.Contains(t, body, `src="OEBPS/Images/cover.jpg"`)
	assert.NotContains(t, body, "<script")
	assert.NotContains(t, body, "javascript:")
	assert.NotContains(t, body, "onload")
	assert.Contains(t, body, "<h1>Chapter One</h1>")
}

func TestCover(t *testing.T) {
	c, err := testBook(t).Cover()
	require.NoError(t, err)
	assert.Equal(t, "OEBPS/Images/cover.jpg", c.Path)
	assert.Equal(t, "image/jpeg", c.MediaType)

	noCover := buildEPUB(t, map[string]string{
		"content.opf": `<package version="2.0"><manifest><item id="a" href="a.html" media-type="application/xhtml+xml"/></manifest><spine><itemref idref="a"/></spine></package>`,
		"a.html":      "<html><body><p>no images</p></body></html>",
	})
	b, err := Parse(noCover)
	require.NoError(t, err)
	_, err = b.Cover()
	assert.ErrorIs(t, err, ErrNoCover)
}

func TestChapter_OutOfRange(t *testing.T) {
	b := testBook(t)
	_, _, err := b.Chapter(5)
	assert.ErrorIs(t, err, ErrNotFound)

	it, data, err := b.Chapter(1)
	require.NoError(t, err)
	assert.Equal(t, "ch2", it.ID)
	assert.Contains(t, string(data), "Chapter two text.")
}
