// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package mupdf serves EPUB documents. Structure, text and resources come
// from the archive itself; raster output is produced by MuPDF, which lays the
// book out into pages. Each laid-out book carries its own MuPDF context, so
// the package plugs into the engine's context pool, which bounds how many
// books are worked on at once.
package mupdf

import (
	"fmt"
	"sync/atomic"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/epub"
	"github.com/sassoftware/viya-doc-engine/logger"
)

var contextSeq atomic.Int64

// Context is one pooled concurrency slot. It holds no MuPDF state of its own:
// go-fitz creates a native context inside every fitz.Document, and a book's
// layout is created lazily and owned by that book. The slot bounds how many
// books are processed concurrently and scopes the documents it opened, which
// are closed by the pool before the slot.
type Context struct {
	id     int64
	opened int
	closed bool
}

var _ docengine.NativeContext = (*Context)(nil)

// NewContextFactory returns the factory the engine's pool uses to create contexts.
func NewContextFactory() docengine.ContextFactory {
	return func() (docengine.NativeContext, error) {
		c := &Context{id: contextSeq.Add(1)}
		logger.Debug(fmt.Sprintf("MuPDF context %d created", c.id), true)
		return c, nil
	}
}

// Open parses an EPUB. The MuPDF layout is created on the first raster request.
func (c *Context) Open(id docengine.Identity, data []byte) (docengine.Document, error) {
	if c.closed {
		return nil, docengine.Errorf(docengine.KindFatalInit, "MuPDF context %d is closed", c.id)
	}
	book, err := epub.Parse(data)
	if err != nil {
		return nil, mapError(err)
	}
	for _, w := range book.Warnings() {
		logger.Warn("EPUB warning", "document", id.ID, "warning", w)
	}
	c.opened++
	return &document{id: id, data: data, book: book}, nil
}

// Close marks the context unusable. Its documents are closed by the pool first.
func (c *Context) Close() error {
	c.closed = true
	logger.Debug(fmt.Sprintf("MuPDF context %d closed after %d documents", c.id, c.opened), true)
	return nil
}
