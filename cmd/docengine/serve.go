// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/logger"
	"github.com/sassoftware/viya-doc-engine/tracer"
)

const shutdownGrace = 10 * time.Second

// engineView is what the observability endpoints read from the engine.
type engineView interface {
	docengine.StatsSource
	Documents() []docengine.Identity
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve [document...]",
		Short: "Open documents and serve engine metrics and stats over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, stop, err := opts.startEngine()
			if err != nil {
				return err
			}
			defer stop()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			for _, ref := range args {
				identity, err := opts.openRef(ctx, eng, ref)
				if err != nil {
					return err
				}
				logger.Info("document preloaded", "id", identity.ID, "source", identity.Source, "format", string(identity.Format))
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newRouter(eng),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving engine metrics", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9464", "Listen address")
	return cmd
}

// newRouter exposes /metrics, /healthz and the /debug endpoints.
func newRouter(eng engineView) *mux.Router {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		docengine.NewCollector(eng),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := eng.Stats()
		if st.Actor != nil && st.Actor.State != docengine.ActorReady.String() {
			http.Error(w, "actor "+st.Actor.State, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	debug := r.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, eng.Stats())
	}).Methods(http.MethodGet)
	debug.HandleFunc("/documents", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, eng.Documents())
	}).Methods(http.MethodGet)
	debug.HandleFunc("/trace", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		tracer.Flush(w)
	}).Methods(http.MethodGet)
	return r
}
