// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
)

// Format tags the native engine a document is served by.
type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatEPUB    Format = "epub"
)

// ParseFormat maps a file extension or MIME type to a Format.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "pdf", "application/pdf":
		return FormatPDF
	case "epub", "application/epub+zip":
		return FormatEPUB
	default:
		return FormatUnknown
	}
}

// DetectFormat sniffs the leading bytes of a document.
func DetectFormat(data []byte) Format {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return FormatPDF
	}
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return FormatUnknown
	}
	if bytes.Contains(head, []byte("application/epub+zip")) {
		return FormatEPUB
	}
	// No stored mimetype entry up front; fall back to looking for a package file.
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return FormatUnknown
	}
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if name == "meta-inf/container.xml" || strings.HasSuffix(name, ".opf") {
			return FormatEPUB
		}
	}
	return FormatUnknown
}

// Source supplies the bytes of a document, either held in memory or fetched
// from an external reference such as object storage.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	String() string
}

// Identity is a logical document. It is immutable once opened.
type Identity struct {
	ID     string
	Format Format
	Source string
	Size   int64
}

// docSlot names one opening of a document. Closing and reopening an id bumps
// the generation so stale native state is never reused.
type docSlot struct {
	id         string
	generation uint64
}
