// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	docengine "github.com/sassoftware/viya-doc-engine"
)

func newMetaCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <document>",
		Short: "Print document metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				md, err := eng.Parse(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), md)
			})
		},
	}
}

func newTOCCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toc <document>",
		Short: "Print the table of contents as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				toc, err := eng.ExtractTOC(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), toc)
			})
		},
	}
}

func newTextCmd(opts *globalOptions) *cobra.Command {
	var (
		item     int
		maxChars int
	)
	cmd := &cobra.Command{
		Use:   "text <document>",
		Short: "Print the text of one item, or of the whole document in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				out := cmd.OutOrStdout()
				if item >= 0 {
					text, err := eng.ExtractText(ctx, id, item)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, text)
					return err
				}
				chunks, err := eng.StreamText(ctx, id, maxChars)
				if err != nil {
					return err
				}
				truncated := false
				for chunk := range chunks {
					if chunk.Err != nil {
						return chunk.Err
					}
					fmt.Fprintln(out, chunk.Text)
					truncated = truncated || chunk.Truncated
				}
				if truncated {
					cmd.PrintErrf("output truncated at %d characters\n", maxChars)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&item, "item", -1, "Item (page or spine index) to extract; all items when negative")
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Stop after this many characters; 0 means no limit")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var so docengine.SearchOptions
	cmd := &cobra.Command{
		Use:   "search <document> <query>",
		Short: "Search the document text and print hits as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				hits, err := eng.Search(ctx, id, args[1], so)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), hits)
			})
		},
	}
	cmd.Flags().BoolVar(&so.CaseSensitive, "case-sensitive", false, "Match case exactly")
	cmd.Flags().BoolVar(&so.WholeWord, "whole-word", false, "Only match whole words")
	cmd.Flags().IntVar(&so.MaxHits, "max-hits", 0, "Stop after this many hits; 0 means unlimited")
	cmd.Flags().IntVar(&so.FromItem, "from", 0, "First item to search")
	cmd.Flags().IntVar(&so.ToItem, "to", 0, "Item to stop before; 0 means the end")
	return cmd
}

func newRenderCmd(opts *globalOptions) *cobra.Command {
	var (
		item   int
		scale  float64
		format string
		clip   string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "render <document>",
		Short: "Render one item as PNG, JPEG or (EPUB only) HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := docengine.RenderRequest{Item: item, Scale: scale, Format: docengine.OutputFormat(strings.ToLower(format))}
			if clip != "" {
				r, err := parseClip(clip)
				if err != nil {
					return err
				}
				req.Clip = &r
			}
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				req.DocumentID = id
				res, err := eng.RenderItem(ctx, req)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), out, res.Data)
			})
		},
	}
	cmd.Flags().IntVar(&item, "item", 0, "Item (page or spine index) to render")
	cmd.Flags().Float64Var(&scale, "scale", 1, "Scale; 1 renders at 72 DPI")
	cmd.Flags().StringVar(&format, "format", "png", "Output format: png, jpeg or html")
	cmd.Flags().StringVar(&clip, "clip", "", "Clip rectangle in points: x,y,width,height")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file; - for stdout")
	return cmd
}

func newThumbnailCmd(opts *globalOptions) *cobra.Command {
	var (
		item int
		size int
		out  string
	)
	cmd := &cobra.Command{
		Use:   "thumbnail <document>",
		Short: "Render a PNG thumbnail of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				res, err := eng.RenderThumbnail(ctx, id, item, size)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), out, res.Data)
			})
		},
	}
	cmd.Flags().IntVar(&item, "item", 0, "Item to render")
	cmd.Flags().IntVar(&size, "size", 0, "Longer edge in pixels; 0 uses the configured default")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file; - for stdout")
	return cmd
}

func newResourceCmd(opts *globalOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "resource <document> <href>",
		Short: "Extract an embedded resource (EPUB image, stylesheet or font)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDocument(cmd, args[0], func(ctx context.Context, eng *docengine.Engine, id string) error {
				res, err := eng.GetResource(ctx, id, args[1])
				if err != nil {
					return err
				}
				cmd.PrintErrf("%s (%s, %d bytes)\n", res.Href, res.MediaType, len(res.Data))
				return writeOutput(cmd.OutOrStdout(), out, res.Data)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file; - for stdout")
	return cmd
}

// parseClip reads "x,y,width,height" in points.
func parseClip(s string) (docengine.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return docengine.Rect{}, fmt.Errorf("clip %q: want x,y,width,height", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return docengine.Rect{}, fmt.Errorf("clip %q: %w", s, err)
		}
		v[i] = f
	}
	r := docengine.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if r.Empty() {
		return docengine.Rect{}, fmt.Errorf("clip %q has no area", s)
	}
	return r, nil
}
