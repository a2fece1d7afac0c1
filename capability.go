// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import "context"

// Metadata is the format-agnostic description of a document.
type Metadata struct {
	Format       Format            `json:"format"`
	Version      string            `json:"version,omitempty"`
	Title        string            `json:"title,omitempty"`
	Authors      []string          `json:"authors,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Keywords     string            `json:"keywords,omitempty"`
	Language     string            `json:"language,omitempty"`
	Publisher    string            `json:"publisher,omitempty"`
	Identifiers  []string          `json:"identifiers,omitempty"`
	Creator      string            `json:"creator,omitempty"`
	Producer     string            `json:"producer,omitempty"`
	CreationDate string            `json:"creationDate,omitempty"`
	ModDate      string            `json:"modDate,omitempty"`
	Encrypted    bool              `json:"encrypted"`
	ItemCount    int               `json:"itemCount"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// TOCEntry is one node of a table of contents. Item is -1 when the entry
// could not be resolved to a page or spine item.
type TOCEntry struct {
	Title    string     `json:"title"`
	Href     string     `json:"href,omitempty"`
	Item     int        `json:"item"`
	Children []TOCEntry `json:"children,omitempty"`
}

// Rect is an axis-aligned rectangle in document units (PDF points), origin top-left.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether r covers no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Union returns the smallest rectangle containing r and o. Empty rectangles are ignored.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.X+r.Width, o.X+o.Width), max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// TextRun is a positioned piece of text. Offset is the rune offset of the run
// inside StructuredText.Text. Reflowable formats leave Box empty.
type TextRun struct {
	Text     string  `json:"text"`
	Offset   int     `json:"offset"`
	Box      Rect    `json:"box"`
	FontSize float64 `json:"fontSize,omitempty"`
}

// StructuredText is the positioned text of one item, used for highlighting and search.
type StructuredText struct {
	Item   int       `json:"item"`
	Width  float64   `json:"width,omitempty"`
	Height float64   `json:"height,omitempty"`
	Text   string    `json:"text"`
	Runs   []TextRun `json:"runs"`
}

type SearchOptions struct {
	CaseSensitive bool
	WholeWord     bool
	// MaxHits stops the search early; 0 means unlimited.
	MaxHits int
	// FromItem and ToItem bound the searched items, ToItem exclusive; ToItem 0 means the last item.
	FromItem int
	ToItem   int
}

type SearchHit struct {
	Item    int    `json:"item"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Snippet string `json:"snippet"`
	Boxes   []Rect `json:"boxes,omitempty"`
}

// Dimensions of an item in PDF points.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// OutputFormat is the encoding of a render result.
type OutputFormat string

const (
	OutputPNG  OutputFormat = "png"
	OutputJPEG OutputFormat = "jpeg"
	OutputHTML OutputFormat = "html"
)

// ContentType returns the MIME type for the output format.
func (f OutputFormat) ContentType() string {
	switch f {
	case OutputJPEG:
		return "image/jpeg"
	case OutputHTML:
		return "application/xhtml+xml"
	default:
		return "image/png"
	}
}

// RenderRequest asks for one item rendered at a scale. Clip is in unscaled
// document units.
type RenderRequest struct {
	DocumentID string
	Item       int
	Scale      float64
	Format     OutputFormat
	Clip       *Rect
}

type RenderResult struct {
	Data        []byte `json:"-"`
	ContentType string `json:"contentType"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Resource is an embedded file (image, stylesheet, font) of a document.
type Resource struct {
	Href      string `json:"href"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"-"`
}

// Document is an opened native document. Implementations are not safe for
// concurrent use; the engine guarantees a single caller at a time and, for
// actor-hosted libraries, that every call happens on the actor thread.
type Document interface {
	ItemCount() int
	Metadata() (Metadata, error)
	TOC() ([]TOCEntry, error)
	Text(item int) (string, error)
	StructuredText(item int) (StructuredText, error)
	Dimensions(item int) (Dimensions, error)
	Render(req RenderRequest) (RenderResult, error)
	Thumbnail(item, maxSize int) (RenderResult, error)
	Resource(href string) (Resource, error)
	Close() error
}

// NativeContext is one initialized per-thread state of a pool-friendly
// library. Documents it opens belong to it and are only used while it is
// checked out.
type NativeContext interface {
	Open(id Identity, data []byte) (Document, error)
	Close() error
}

// ContextFactory creates native contexts for the pool.
type ContextFactory func() (NativeContext, error)

// ActorLibrary is a library with process-global state. Init and Close are
// each called exactly once, and every method runs on the actor thread.
type ActorLibrary interface {
	Init() error
	Open(id Identity, data []byte) (Document, error)
	Close() error
}

// Parser is the read capability of one document.
type Parser interface {
	Parse(ctx context.Context) (Metadata, error)
	ItemCount(ctx context.Context) (int, error)
	ExtractTOC(ctx context.Context) ([]TOCEntry, error)
	ExtractText(ctx context.Context, item int) (string, error)
	GetStructuredText(ctx context.Context, item int) (StructuredText, error)
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error)
	GetItemDimensions(ctx context.Context, item int) (Dimensions, error)
}

// Renderer is the render capability of one document.
type Renderer interface {
	RenderItem(ctx context.Context, req RenderRequest) (RenderResult, error)
	RenderThumbnail(ctx context.Context, item, maxSize int) (RenderResult, error)
	GetResource(ctx context.Context, href string) (Resource, error)
}
