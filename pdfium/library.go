// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package pdfium serves PDF documents. Rendering, page geometry and the
// outline go through PDFium (WebAssembly build), whose global state makes it
// an actor-hosted library; text and metadata are read with a pure-Go parser.
package pdfium

import (
	"fmt"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
	"github.com/ledongthuc/pdf"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/logger"
)

const defaultInstanceTimeout = 30 * time.Second

// Library is the PDFium ActorLibrary. It holds exactly one PDFium instance;
// the engine's service actor is its only caller.
type Library struct {
	instanceTimeout time.Duration
	debug           bool

	pool     pdfium.Pool
	instance pdfium.Pdfium
}

var _ docengine.ActorLibrary = (*Library)(nil)

// Option configures a Library.
type Option func(*Library)

// WithInstanceTimeout bounds how long Init waits for the PDFium instance.
func WithInstanceTimeout(d time.Duration) Option {
	return func(l *Library) {
		if d > 0 {
			l.instanceTimeout = d
		}
	}
}

// WithDebug turns on the PDF parser's own debug output.
func WithDebug(on bool) Option {
	return func(l *Library) { l.debug = on }
}

// New returns an uninitialized library.
func New(opts ...Option) *Library {
	l := &Library{instanceTimeout: defaultInstanceTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init starts the WebAssembly runtime and checks out its single instance.
func (l *Library) Init() error {
	if l.debug {
		pdf.DebugOn = true
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return fmt.Errorf("initialize PDFium: %w", err)
	}
	instance, err := pool.GetInstance(l.instanceTimeout)
	if err != nil {
		pool.Close()
		return fmt.Errorf("get PDFium instance: %w", err)
	}
	l.pool, l.instance = pool, instance
	logger.Info("PDFium initialized", "instanceTimeout", l.instanceTimeout.String())
	return nil
}

// Open loads a PDF into the PDFium instance.
func (l *Library) Open(id docengine.Identity, data []byte) (docengine.Document, error) {
	if l.instance == nil {
		return nil, docengine.Errorf(docengine.KindFatalInit, "PDFium is not initialized")
	}
	opened, err := l.instance.OpenDocument(&requests.OpenDocument{File: &data})
	if err != nil {
		return nil, docengine.Errorf(docengine.KindParse, "open pdf: %v", err)
	}
	count, err := l.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: opened.Document})
	if err != nil {
		l.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: opened.Document})
		return nil, docengine.Errorf(docengine.KindParse, "count pages: %v", err)
	}
	logger.Debug(fmt.Sprintf("PDF opened: id=%s pages=%d bytes=%d", id.ID, count.PageCount, len(data)), true)
	return &document{
		id:     id,
		inst:   l.instance,
		handle: opened.Document,
		data:   data,
		pages:  count.PageCount,
	}, nil
}

// Close releases the instance and stops the runtime.
func (l *Library) Close() error {
	var firstErr error
	if l.instance != nil {
		if err := l.instance.Close(); err != nil {
			firstErr = fmt.Errorf("close PDFium instance: %w", err)
		}
		l.instance = nil
	}
	if l.pool != nil {
		if err := l.pool.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close PDFium pool: %w", err)
		}
		l.pool = nil
	}
	return firstErr
}
