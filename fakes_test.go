// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
)

// fakeHeader starts every document the fake library accepts. Items are
// separated by form feeds.
const fakeHeader = "FAKE:"

func fakeData(items ...string) []byte {
	return []byte(fakeHeader + strings.Join(items, "\f"))
}

// fakeLib is a native library double that counts every call. It serves as
// both an ActorLibrary and, through contexts(), a ContextFactory.
type fakeLib struct {
	initErr     error
	initPanic   bool
	initBlock   chan struct{}
	renderDelay time.Duration
	panicItem   int

	inits     atomic.Int64
	closes    atomic.Int64
	opens     atomic.Int64
	docCloses atomic.Int64
	renders   atomic.Int64
	thumbs    atomic.Int64
	texts     atomic.Int64
	resources atomic.Int64

	ctxCreated atomic.Int64
	ctxClosed  atomic.Int64
	ctxFail    atomic.Int64
}

func newFakeLib() *fakeLib { return &fakeLib{panicItem: -1} }

func (l *fakeLib) Init() error {
	l.inits.Add(1)
	if l.initBlock != nil {
		<-l.initBlock
	}
	if l.initPanic {
		panic("init exploded")
	}
	return l.initErr
}

func (l *fakeLib) Open(id Identity, data []byte) (Document, error) {
	l.opens.Add(1)
	if !bytes.HasPrefix(data, []byte(fakeHeader)) {
		return nil, Errorf(KindParse, "not a fake document")
	}
	return &fakeDoc{lib: l, items: strings.Split(string(data[len(fakeHeader):]), "\f")}, nil
}

func (l *fakeLib) Close() error {
	l.closes.Add(1)
	return nil
}

// contexts returns a factory whose first n creations fail.
func (l *fakeLib) contexts(failFirst int64) ContextFactory {
	l.ctxFail.Store(failFirst)
	return func() (NativeContext, error) {
		if l.ctxFail.Add(-1) >= 0 {
			return nil, errors.New("no native memory")
		}
		l.ctxCreated.Add(1)
		return &fakeContext{lib: l}, nil
	}
}

type fakeContext struct {
	lib    *fakeLib
	closed atomic.Bool
}

func (c *fakeContext) Open(id Identity, data []byte) (Document, error) {
	return c.lib.Open(id, data)
}

func (c *fakeContext) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.lib.ctxClosed.Add(1)
	}
	return nil
}

type fakeDoc struct {
	lib   *fakeLib
	items []string
}

func (d *fakeDoc) ItemCount() int { return len(d.items) }

func (d *fakeDoc) Metadata() (Metadata, error) {
	return Metadata{Title: "Fake", Authors: []string{"Tester"}, Version: "1.0"}, nil
}

func (d *fakeDoc) TOC() ([]TOCEntry, error) {
	toc := make([]TOCEntry, len(d.items))
	for i := range d.items {
		toc[i] = TOCEntry{Title: fmt.Sprintf("Item %d", i+1), Item: i}
	}
	return toc, nil
}

func (d *fakeDoc) check(item int) error {
	if item < 0 || item >= len(d.items) {
		return Errorf(KindNotFound, "item %d", item)
	}
	return nil
}

func (d *fakeDoc) Text(item int) (string, error) {
	d.lib.texts.Add(1)
	if err := d.check(item); err != nil {
		return "", err
	}
	return d.items[item], nil
}

// StructuredText lays every word out on one line, 10 points per rune.
func (d *fakeDoc) StructuredText(item int) (StructuredText, error) {
	if err := d.check(item); err != nil {
		return StructuredText{}, err
	}
	text := d.items[item]
	st := StructuredText{Item: item, Width: 612, Height: 792, Text: text}
	offset, start := 0, -1
	var word strings.Builder
	flush := func() {
		if start < 0 {
			return
		}
		n := utf8.RuneCountInString(word.String())
		st.Runs = append(st.Runs, TextRun{
			Text:     word.String(),
			Offset:   start,
			Box:      Rect{X: float64(start * 10), Y: 50, Width: float64(n * 10), Height: 12},
			FontSize: 12,
		})
		word.Reset()
		start = -1
	}
	for _, r := range text {
		if unicode.IsSpace(r) {
			flush()
		} else {
			if start < 0 {
				start = offset
			}
			word.WriteRune(r)
		}
		offset++
	}
	flush()
	return st, nil
}

func (d *fakeDoc) Dimensions(item int) (Dimensions, error) {
	if err := d.check(item); err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: 612, Height: 792}, nil
}

func (d *fakeDoc) Render(req RenderRequest) (RenderResult, error) {
	d.lib.renders.Add(1)
	if req.Item == d.lib.panicItem {
		panic("native render crashed")
	}
	if d.lib.renderDelay > 0 {
		time.Sleep(d.lib.renderDelay)
	}
	if err := d.check(req.Item); err != nil {
		return RenderResult{}, err
	}
	return RenderResult{
		Data:        []byte(fmt.Sprintf("%d@%d", req.Item, QuantizeScale(req.Scale))),
		ContentType: req.Format.ContentType(),
		Width:       int(612 * req.Scale),
		Height:      int(792 * req.Scale),
	}, nil
}

func (d *fakeDoc) Thumbnail(item, maxSize int) (RenderResult, error) {
	d.lib.thumbs.Add(1)
	if err := d.check(item); err != nil {
		return RenderResult{}, err
	}
	return RenderResult{Data: []byte("thumb"), ContentType: OutputPNG.ContentType(), Width: maxSize * 612 / 792, Height: maxSize}, nil
}

func (d *fakeDoc) Resource(href string) (Resource, error) {
	d.lib.resources.Add(1)
	if href != "img/cover.png" {
		return Resource{}, Errorf(KindNotFound, "no resource %q", href)
	}
	return Resource{Href: href, MediaType: "image/png", Data: []byte("png")}, nil
}

func (d *fakeDoc) Close() error {
	d.lib.docCloses.Add(1)
	return nil
}

// memSource is an in-memory Source that can be told to fail.
type memSource struct {
	name string
	data []byte
	err  error
}

func (s memSource) Load(_ context.Context) ([]byte, error) { return s.data, s.err }
func (s memSource) String() string { return s.name }

// collector gathers concurrent results for assertions.
type collector[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.vals = append(c.vals, v)
	c.mu.Unlock()
}

func (c *collector[T]) values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.vals...)
}
