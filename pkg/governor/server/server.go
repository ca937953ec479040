/*
Copyright 2022 The Katalyst Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes the tunables as a key/value surface over HTTP,
// next to the display-state trigger, metrics and healthz.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-governor/pkg/governor/display"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
	"github.com/kubewharf/katalyst-governor/pkg/util/eventbus"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
	"github.com/kubewharf/katalyst-governor/pkg/util/process"
)

const (
	displaySourceHTTP = "http"

	maxValueBytes   = 64
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

type Server struct {
	addr    string
	store   *tunables.Store
	bus     eventbus.EventBus
	healthz *general.HealthzRegistry
	metrics http.Handler
	chain   *process.HTTPHandler
}

// NewServer builds the surface; healthz and metrics may be nil, the
// matching routes are then not registered.
func NewServer(addr string, store *tunables.Store, bus eventbus.EventBus, healthz *general.HealthzRegistry,
	metrics http.Handler, chain *process.HTTPHandler,
) *Server {
	return &Server{
		addr:    addr,
		store:   store,
		bus:     bus,
		healthz: healthz,
		metrics: metrics,
		chain:   chain,
	}
}

// Handler returns the router wrapped with the enabled handler chains.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/tunables", s.handleList).Methods(http.MethodGet)
	router.HandleFunc("/tunables/{key}", s.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/tunables/{key}", s.handleSet).Methods(http.MethodPut)
	router.HandleFunc("/display/{state}", s.handleDisplay).Methods(http.MethodPost)
	if s.healthz != nil {
		router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics)
	}

	if s.chain == nil {
		return router
	}
	return s.chain.WithHandleChain(router)
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
	}
	if s.chain != nil {
		s.chain.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		general.Infof("listening on %v for tunables, metrics and healthz", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.All())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.Get(mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, v)
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > maxValueBytes {
		writeText(w, http.StatusRequestEntityTooLarge, "value too long")
		return
	}

	if err := s.store.Set(key, strings.TrimSpace(string(body))); err != nil {
		general.Warningf("rejected tunable write from %v: %v", r.RemoteAddr, err)
		writeError(w, err)
		return
	}

	v, _ := s.store.Get(key)
	writeText(w, http.StatusOK, v)
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	state, err := display.ParseState(mux.Vars(r)["state"])
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := display.PublishState(s.bus, state, displaySourceHTTP); err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeText(w, http.StatusAccepted, state.String())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	results, ready := s.healthz.CheckHealthz()
	code := http.StatusOK
	if !ready {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, results)
}

// writeError maps the rejection kinds of a tunable write to status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, tunables.ErrUnknownKey):
		code = http.StatusNotFound
	case errors.Is(err, tunables.ErrReadOnly):
		code = http.StatusForbidden
	case errors.Is(err, tunables.ErrInvalidValue):
		code = http.StatusBadRequest
	}
	writeText(w, code, err.Error())
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, text+"\n")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		general.Errorf("encode json: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
