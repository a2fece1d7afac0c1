// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/sassoftware/viya-doc-engine/logger"
)

// ItemText is one item of a text stream. Truncated is set on the last chunk
// when the character limit cut the stream short.
type ItemText struct {
	Item      int
	Text      string
	Truncated bool
	Err       error
}

// ExtractAllText concatenates the text of every item in order, stopping at
// maxChars runes when maxChars > 0. It reports whether the output was truncated.
func (e *Engine) ExtractAllText(ctx context.Context, id string, maxChars int) (string, bool, error) {
	stream, err := e.StreamText(ctx, id, maxChars)
	if err != nil {
		return "", false, err
	}
	var out strings.Builder
	truncated := false
	for chunk := range stream {
		if chunk.Err != nil {
			return "", false, chunk.Err
		}
		out.WriteString(chunk.Text)
		truncated = truncated || chunk.Truncated
	}
	logger.Debug(fmt.Sprintf("Extraction completed: document=%s truncated=%v total_chars=%d", id, truncated, out.Len()), true)
	return out.String(), truncated, nil
}

// StreamText emits the text of each item in order. The channel is closed
// after the last item, after the character limit is reached, or after the
// first error, which is delivered as the final chunk.
func (e *Engine) StreamText(ctx context.Context, id string, maxChars int) (<-chan ItemText, error) {
	total, err := e.ItemCount(ctx, id)
	if err != nil {
		return nil, err
	}
	done, err := e.begin("stream text")
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("Starting streaming extraction: document=%s items=%d max_chars=%d", id, total, maxChars), true)

	out := make(chan ItemText)
	go func() {
		defer done()
		defer close(out)
		emitted := 0
		for item := 0; item < total; item++ {
			text, err := e.ExtractText(ctx, id, item)
			if err != nil {
				e.send(ctx, out, ItemText{Item: item, Err: err})
				return
			}
			chunk := ItemText{Item: item, Text: text}
			if maxChars > 0 {
				rs := []rune(text)
				if remaining := maxChars - emitted; len(rs) >= remaining {
					chunk.Text = string(rs[:remaining])
					chunk.Truncated = len(rs) > remaining || item < total-1
					logger.Debug(fmt.Sprintf("Streaming truncation reached: limit=%d item=%d", maxChars, item), true)
					e.send(ctx, out, chunk)
					return
				}
				emitted += len(rs)
			}
			if !e.send(ctx, out, chunk) {
				return
			}
		}
	}()
	return out, nil
}

func (e *Engine) send(ctx context.Context, out chan<- ItemText, chunk ItemText) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		logger.Debug("Context cancelled while streaming text", true)
		return false
	}
}
