// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Command docengine inspects, searches and renders PDF and EPUB documents
// through the document engine, and can serve its metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/logger"
	"github.com/sassoftware/viya-doc-engine/mupdf"
	"github.com/sassoftware/viya-doc-engine/pdfium"
	"github.com/sassoftware/viya-doc-engine/source"
	"github.com/sassoftware/viya-doc-engine/tracer"
)

type globalOptions struct {
	configPath string
	debug      bool
	s3Region   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "docengine",
		Short:        "Inspect, search and render PDF and EPUB documents",
		SilenceUsage: true,
		Long: `docengine opens a document from a local path or an s3://bucket/key
reference and runs one engine operation on it. PDF is served by PDFium on a
single service thread; EPUB is served from a pool of MuPDF contexts.`,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML engine configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging and print the trace log on exit")
	root.PersistentFlags().StringVar(&opts.s3Region, "s3-region", "", "AWS region for s3:// references")

	root.AddCommand(
		newMetaCmd(opts),
		newTOCCmd(opts),
		newTextCmd(opts),
		newSearchCmd(opts),
		newRenderCmd(opts),
		newThumbnailCmd(opts),
		newResourceCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// config loads the engine configuration and installs a zap logger.
func (o *globalOptions) config() (*docengine.Config, *zap.Logger, error) {
	cfg := docengine.NewDefaultConfig()
	if o.configPath != "" {
		loaded, err := docengine.LoadConfig(o.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if o.debug {
		cfg.DebugOn = true
	}

	var (
		zl  *zap.Logger
		err error
	)
	if cfg.DebugOn {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	cfg.Logger = logger.Zap(zl)
	return cfg, zl, nil
}

// startEngine builds and starts an engine serving PDF and EPUB.
func (o *globalOptions) startEngine() (*docengine.Engine, func(), error) {
	cfg, zl, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	eng, err := docengine.New(cfg,
		docengine.WithActorLibrary(pdfium.New(pdfium.WithDebug(cfg.DebugOn)), docengine.FormatPDF),
		docengine.WithContextFactory(mupdf.NewContextFactory(), docengine.FormatEPUB),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := eng.Start(); err != nil {
		_ = eng.Shutdown(context.Background())
		return nil, nil, err
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
		defer cancel()
		if err := eng.Shutdown(ctx); err != nil {
			zl.Warn("engine shutdown", zap.Error(err))
		}
		if cfg.DebugOn {
			tracer.Flush(os.Stderr)
		}
		_ = zl.Sync()
	}
	return eng, stop, nil
}

// openRef opens a local path or s3:// reference in eng.
func (o *globalOptions) openRef(ctx context.Context, eng *docengine.Engine, ref string) (*docengine.Identity, error) {
	var client source.ObjectGetter
	if strings.HasPrefix(ref, "s3://") {
		c, err := source.NewS3Client(ctx, o.s3Region)
		if err != nil {
			return nil, err
		}
		client = c
	}
	src, err := source.Parse(ref, client)
	if err != nil {
		return nil, err
	}
	return eng.Open(ctx, src, "", docengine.FormatUnknown)
}

// withDocument runs fn against ref opened in a fresh engine.
func (o *globalOptions) withDocument(cmd *cobra.Command, ref string, fn func(ctx context.Context, eng *docengine.Engine, id string) error) error {
	eng, stop, err := o.startEngine()
	if err != nil {
		return err
	}
	defer stop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	identity, err := o.openRef(ctx, eng, ref)
	if err != nil {
		return err
	}
	return fn(ctx, eng, identity.ID)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeOutput writes data to path, or to w when path is "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
