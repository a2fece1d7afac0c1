// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// scaleQuantum is the number of quantization steps per unit of scale (two decimals).
const scaleQuantum = 100

// RenderKind separates the different outputs stored in the render region.
type RenderKind uint8

const (
	RenderPage RenderKind = iota
	RenderThumb
	RenderResource
)

// RenderKey is the cache fingerprint of a render request. All fields are
// integers or strings, so equality is exact.
type RenderKey struct {
	DocumentID string
	Kind       RenderKind
	Item       int
	Scale      int64
	Format     OutputFormat
	Clip       uint64
	// Extra distinguishes non-page outputs: thumbnail size, resource href.
	Extra string
}

func (k RenderKey) document() string { return k.DocumentID }

func (k RenderKey) String() string {
	return fmt.Sprintf("%s/%d/%d@%d.%s#%x:%s", k.DocumentID, k.Kind, k.Item, k.Scale, k.Format, k.Clip, k.Extra)
}

// QuantizeScale rounds a scale factor to two decimal places as an integer.
func QuantizeScale(scale float64) int64 {
	return int64(math.Round(scale * scaleQuantum))
}

// ClipHash hashes the clip rectangle's quantized coordinates. A nil clip hashes to 0.
func ClipHash(clip *Rect) uint64 {
	if clip == nil {
		return 0
	}
	var buf [32]byte
	for i, v := range []float64{clip.X, clip.Y, clip.Width, clip.Height} {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(QuantizeScale(v)))
	}
	h := xxhash.Sum64(buf[:])
	if h == 0 {
		// Keep 0 reserved for "no clip".
		h = 1
	}
	return h
}

// NewRenderKey validates req and derives its cache key.
func NewRenderKey(req RenderRequest) (RenderKey, error) {
	if err := validateRenderRequest(req); err != nil {
		return RenderKey{}, err
	}
	format := req.Format
	if format == "" {
		format = OutputPNG
	}
	return RenderKey{
		DocumentID: req.DocumentID,
		Kind:       RenderPage,
		Item:       req.Item,
		Scale:      QuantizeScale(req.Scale),
		Format:     format,
		Clip:       ClipHash(req.Clip),
	}, nil
}

func validateRenderRequest(req RenderRequest) error {
	const op = "render key"
	switch {
	case req.DocumentID == "":
		return newError(KindInvalidContent, op, "", -1, fmt.Errorf("empty document id"))
	case req.Item < 0:
		return newError(KindNotFound, op, req.DocumentID, req.Item, fmt.Errorf("negative item index"))
	case math.IsNaN(req.Scale) || math.IsInf(req.Scale, 0) || QuantizeScale(req.Scale) <= 0:
		return newError(KindInvalidContent, op, req.DocumentID, req.Item, fmt.Errorf("invalid scale %v", req.Scale))
	}
	if req.Clip != nil && req.Clip.Empty() {
		return newError(KindInvalidContent, op, req.DocumentID, req.Item, fmt.Errorf("empty clip region"))
	}
	switch req.Format {
	case "", OutputPNG, OutputJPEG, OutputHTML:
	default:
		return newError(KindInvalidContent, op, req.DocumentID, req.Item, fmt.Errorf("unsupported output format %q", req.Format))
	}
	return nil
}

// docKey addresses per-document entries in the parsed region.
type docKey struct {
	DocumentID string
}

func (k docKey) document() string { return k.DocumentID }
func (k docKey) String() string   { return k.DocumentID }

// textKey addresses one item in the structured-text region.
type textKey struct {
	DocumentID string
	Item       int
}

func (k textKey) document() string { return k.DocumentID }
func (k textKey) String() string   { return fmt.Sprintf("%s/%d", k.DocumentID, k.Item) }
