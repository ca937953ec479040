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

package process

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/kubewharf/katalyst-governor/pkg/metrics"
)

const (
	HTTPChainRateLimiter = "rateLimiter"
	HTTPChainMonitor     = "monitor"
)

const (
	HTTPRequestCount = "http_request_count"
	HTTPThrottled    = "http_request_throttled"
)

var httpCleanupVisitorPeriod = time.Minute * 3

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// HTTPHandler wraps handlers with the enabled chains. The rate limiter
// only throttles requests that mutate state, keyed by remote host.
type HTTPHandler struct {
	mux sync.Mutex

	enabled  sets.String
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int

	emitter metrics.MetricEmitter
}

func NewHTTPHandler(enabled []string, limit rate.Limit, burst int, emitter metrics.MetricEmitter) *HTTPHandler {
	return &HTTPHandler{
		visitors: make(map[string]*visitor),
		enabled:  sets.NewString(enabled...),
		limit:    limit,
		burst:    burst,
		emitter:  emitter,
	}
}

func (h *HTTPHandler) Run(ctx context.Context) {
	if h.enabled.Has(HTTPChainRateLimiter) {
		go wait.Until(h.cleanupVisitor, httpCleanupVisitorPeriod, ctx.Done())
	}
}

func (h *HTTPHandler) getHTTPVisitor(subject string) *rate.Limiter {
	h.mux.Lock()
	defer h.mux.Unlock()

	v, exists := h.visitors[subject]
	if !exists {
		limiter := rate.NewLimiter(h.limit, h.burst)
		h.visitors[subject] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitor periodically cleanups visitors if they are not called for a long time
func (h *HTTPHandler) cleanupVisitor() {
	h.mux.Lock()
	defer h.mux.Unlock()

	for addr, v := range h.visitors {
		if time.Since(v.lastSeen) > httpCleanupVisitorPeriod {
			delete(h.visitors, addr)
		}
	}
}

func isMutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRateLimiter is used to limit user-requests to protect the governor
// from tunable write storms
func (h *HTTPHandler) withRateLimiter(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r != nil && isMutating(r) {
			key := remoteHost(r)
			if !h.getHTTPVisitor(key).Allow() {
				klog.Warningf("request %v %+v has too many requests from %v", r.Method, r.URL, key)
				w.WriteHeader(http.StatusTooManyRequests)
				_ = h.emitter.StoreInt64(HTTPThrottled, 1, metrics.MetricTypeNameCount,
					metrics.MetricTag{Key: "path", Val: r.URL.Path})
				return
			}
		}

		f(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *HTTPHandler) withMonitor(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		f(rec, r)

		_ = h.emitter.StoreInt64(HTTPRequestCount, 1, metrics.MetricTypeNameCount,
			metrics.MetricTag{Key: "path", Val: r.URL.Path},
			metrics.MetricTag{Key: "method", Val: r.Method},
			metrics.MetricTag{Key: "code", Val: http.StatusText(rec.status)})
	}
}

// WithHandleChain builds handler chains for http.Handler
func (h *HTTPHandler) WithHandleChain(f http.Handler) http.Handler {
	// build orders for http chains
	chains := []string{HTTPChainRateLimiter, HTTPChainMonitor}
	funcs := map[string]func(http.HandlerFunc) http.HandlerFunc{
		HTTPChainRateLimiter: h.withRateLimiter,
		HTTPChainMonitor:     h.withMonitor,
	}

	handler := f
	for _, c := range chains {
		if h.enabled.Has(c) {
			tmpHandler := handler
			handler = funcs[c](func(w http.ResponseWriter, r *http.Request) {
				tmpHandler.ServeHTTP(w, r)
			})
		}
	}
	return handler
}
