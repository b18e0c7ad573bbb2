package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/breakerd/internal/breaker"
	"github.com/angeloszaimis/breakerd/internal/upstream"
)

type BreakerHandler struct {
	logger    *slog.Logger
	engine    *breaker.Engine
	upstreams *upstream.Registry
}

func New(logger *slog.Logger, engine *breaker.Engine, upstreams *upstream.Registry) *BreakerHandler {
	return &BreakerHandler{
		logger:    logger,
		engine:    engine,
		upstreams: upstreams,
	}
}

// bufferedResponse captures an upstream response in memory so a failed or
// denied call can be replaced by the fallback's response instead of a
// half-written reply. Only routes with a fallback pay for the buffering.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(code int) {
	b.status = code
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

func (b *bufferedResponse) copyTo(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// statusRecorder streams the upstream reply straight to the client while
// capturing the status code for breaker accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.wrote = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(p)
}

// Proxy forwards /services/{service}/... to the configured upstream under the
// service's circuit breaker. Upstream responses of 500 and above count as
// failures. Routes without a fallback stream the upstream reply directly;
// routes with one buffer it so a failed or denied call can be answered by the
// fallback upstream instead.
func (h *BreakerHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")

	target, ok := h.upstreams.Lookup(service)
	if !ok {
		h.logger.Warn("Unknown service", slog.String("service", service))
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", service))
		return
	}

	h.logger.Info("Received request",
		slog.String("service", service),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	if target.FallbackProxy() == nil {
		h.proxyDirect(w, r, service, target)
		return
	}

	h.proxyWithFallback(w, r, service, target)
}

func (h *BreakerHandler) proxyDirect(w http.ResponseWriter, r *http.Request, service string, target *upstream.Target) {
	w.Header().Set("X-Breaker-Service", service)
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	_, err := breaker.Execute(r.Context(), h.engine, service,
		func(ctx context.Context) (struct{}, error) {
			req := r.Clone(ctx)
			req.URL.Path = "/" + r.PathValue("rest")
			target.ReverseProxy().ServeHTTP(recorder, req)
			if recorder.status >= http.StatusInternalServerError {
				return struct{}{}, fmt.Errorf("upstream %q returned %d", service, recorder.status)
			}
			return struct{}{}, nil
		})
	if err != nil {
		if recorder.wrote {
			// The upstream's reply already went to the client; only the
			// breaker accounting mattered here.
			h.logger.Warn("Upstream failure",
				slog.String("service", service), slog.Any("err", err))
			return
		}
		h.writeProxyError(w, service, err)
	}
}

func (h *BreakerHandler) proxyWithFallback(w http.ResponseWriter, r *http.Request, service string, target *upstream.Target) {
	// Both the primary and the fallback may need to send the request body,
	// so it has to be buffered before the first forward consumes it.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("Failed to read request body",
			slog.String("service", service), slog.Any("err", err))
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	forward := func(proxy http.Handler) (*bufferedResponse, error) {
		buffered := newBufferedResponse()
		req := r.Clone(r.Context())
		req.URL.Path = "/" + r.PathValue("rest")
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		proxy.ServeHTTP(buffered, req)
		if buffered.status >= http.StatusInternalServerError {
			return buffered, fmt.Errorf("upstream %q returned %d", service, buffered.status)
		}
		return buffered, nil
	}

	response, err := breaker.ExecuteWithFallback(r.Context(), h.engine, service,
		func(ctx context.Context) (*bufferedResponse, error) {
			return forward(target.ReverseProxy())
		},
		func(ctx context.Context) (*bufferedResponse, error) {
			return forward(target.FallbackProxy())
		},
	)
	if err != nil {
		h.writeProxyError(w, service, err)
		return
	}

	w.Header().Set("X-Breaker-Service", service)
	response.copyTo(w)
}

func (h *BreakerHandler) writeProxyError(w http.ResponseWriter, service string, err error) {
	var openErr *breaker.CircuitOpenError
	switch {
	case errors.As(err, &openErr):
		h.logger.Warn("Call denied", slog.String("service", service))
		writeError(w, http.StatusServiceUnavailable, openErr.Error())
	case errors.As(err, new(*breaker.StorageError)):
		h.logger.Error("Breaker storage failure",
			slog.String("service", service), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "breaker storage unavailable")
	default:
		h.logger.Warn("Upstream failure",
			slog.String("service", service), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// Breakers serves the metrics summary for all known breakers.
func (h *BreakerHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Metrics(r.Context())
	if err != nil {
		h.logger.Error("Failed to collect breaker metrics", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "breaker storage unavailable")
		return
	}

	writeJSON(w, summary)
}

// ResetService forces one breaker back to CLOSED.
func (h *BreakerHandler) ResetService(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")

	if err := h.engine.Reset(r.Context(), service); err != nil {
		h.logger.Error("Failed to reset breaker",
			slog.String("service", service), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "breaker storage unavailable")
		return
	}

	h.logger.Info("Breaker reset", slog.String("service", service))
	writeJSON(w, map[string]string{"service": service, "state": "CLOSED"})
}

// ResetAll forces every known breaker back to CLOSED.
func (h *BreakerHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ResetAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to reset breakers", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "breaker storage unavailable")
		return
	}

	h.logger.Info("All breakers reset", slog.Int("count", n))
	writeJSON(w, map[string]int{"reset": n})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
