// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package source provides document sources for the engine: in-memory bytes,
// local files and S3 objects.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	docengine "github.com/sassoftware/viya-doc-engine"
)

// Bytes is a document already held in memory.
type Bytes struct {
	Name string
	Data []byte
}

func (b Bytes) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.Data) == 0 {
		return nil, docengine.Errorf(docengine.KindInvalidContent, "source %s is empty", b.String())
	}
	return b.Data, nil
}

func (b Bytes) String() string {
	if b.Name != "" {
		return b.Name
	}
	return "memory"
}

// File reads a document from the local filesystem.
type File string

func (f File) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(string(f))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, docengine.Errorf(docengine.KindNotFound, "file %s: %w", string(f), err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", string(f), err)
	}
	if len(data) == 0 {
		return nil, docengine.Errorf(docengine.KindInvalidContent, "file %s is empty", string(f))
	}
	return data, nil
}

func (f File) String() string { return string(f) }

// Parse turns a reference into a Source: s3://bucket/key becomes an S3 object
// read with client, anything else a local file path.
func Parse(ref string, client ObjectGetter) (docengine.Source, error) {
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return nil, docengine.Errorf(docengine.KindInvalidContent, "malformed S3 reference %q", ref)
		}
		if client == nil {
			return nil, docengine.Errorf(docengine.KindInvalidContent, "no S3 client for %q", ref)
		}
		return &S3{Client: client, Bucket: bucket, Key: key}, nil
	}
	if ref == "" {
		return nil, docengine.Errorf(docengine.KindInvalidContent, "empty document reference")
	}
	return File(ref), nil
}
