// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
)

// PointsPerInch is the unit of document coordinates; scale 1 renders at 72 DPI.
const PointsPerInch = 72

const jpegQuality = 85

// ScaleDPI converts a render scale to the DPI a native renderer expects.
func ScaleDPI(scale float64) int {
	return max(1, int(math.Round(PointsPerInch*scale)))
}

// ThumbnailScale returns the scale at which an item of the given size fits
// maxSize pixels on its longer edge.
func ThumbnailScale(dim Dimensions, maxSize int) float64 {
	longer := math.Max(dim.Width, dim.Height)
	if longer <= 0 || maxSize <= 0 {
		return 1
	}
	return float64(maxSize) / longer
}

// EncodeImage crops a rendered bitmap to clip, given in document units and
// scaled to pixels, and encodes it as PNG or JPEG.
func EncodeImage(img image.Image, clip *Rect, scale float64, format OutputFormat) (RenderResult, error) {
	if clip != nil {
		cropped, err := cropImage(img, *clip, scale)
		if err != nil {
			return RenderResult{}, err
		}
		img = cropped
	}

	var buf bytes.Buffer
	switch format {
	case OutputPNG, "":
		format = OutputPNG
		if err := png.Encode(&buf, img); err != nil {
			return RenderResult{}, Errorf(KindRender, "encode png: %v", err)
		}
	case OutputJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return RenderResult{}, Errorf(KindRender, "encode jpeg: %v", err)
		}
	default:
		return RenderResult{}, Errorf(KindInvalidContent, "output format %q is not a raster format", format)
	}

	b := img.Bounds()
	return RenderResult{
		Data:        buf.Bytes(),
		ContentType: format.ContentType(),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

func cropImage(img image.Image, clip Rect, scale float64) (image.Image, error) {
	r := image.Rect(
		int(math.Floor(clip.X*scale)),
		int(math.Floor(clip.Y*scale)),
		int(math.Ceil((clip.X+clip.Width)*scale)),
		int(math.Ceil((clip.Y+clip.Height)*scale)),
	).Add(img.Bounds().Min).Intersect(img.Bounds())
	if r.Empty() {
		return nil, Errorf(KindInvalidContent, "clip region %+v lies outside the rendered item", clip)
	}
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// DecodeImageSize reads the pixel size of an encoded image without decoding it.
func DecodeImageSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
