package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"imgopt/internal/config"
	"imgopt/internal/optimizer"
)

// ImageProcessor produces an optimized image for a request.
type ImageProcessor interface {
	Process(ctx context.Context, req optimizer.Request) (*optimizer.Result, error)
}

type Handlers struct {
	config    *config.Config
	logger    *zap.Logger
	processor ImageProcessor
}

func New(config *config.Config, logger *zap.Logger, processor ImageProcessor) *Handlers {
	return &Handlers{
		config:    config,
		logger:    logger,
		processor: processor,
	}
}

// Router wires the routes and middleware.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(h.RequestLoggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(h.CORSMiddleware)

	r.Get("/image", h.HandleImage)
	r.Head("/image", h.HandleImage)
	r.Get("/healthz", h.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("cache", wrapped.Header().Get("X-Cache")),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
			allowedOrigin = "*"
			if origin != "" {
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleImage serves GET/HEAD /image. Nothing is written until the pipeline
// has produced its outcome.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	res, err := h.processor.Process(r.Context(), optimizer.Request{
		Query:  r.URL.Query(),
		Accept: r.Header.Get("Accept"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	etag := `"` + string(res.Key) + `"`
	w.Header().Set("Cache-Control", optimizer.CacheControl)
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Accept")
	w.Header().Set("X-Cache", string(res.Tier))

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", res.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(res.Data)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	pe := optimizer.AsError(err)

	fields := []zap.Field{
		zap.String("kind", pe.Kind.String()),
		zap.String("query", r.URL.RawQuery),
		zap.Error(pe.Err),
	}
	switch pe.Kind {
	case optimizer.KindBadRequest:
		h.logger.Debug("Rejected image request", fields...)
	case optimizer.KindUpstreamFetch:
		h.logger.Warn("Image source unavailable", fields...)
	default:
		h.logger.Error("Image optimization error", fields...)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(pe.Kind.StatusCode())
	w.Write([]byte(pe.Message))
}

// RemoteAddr has already been rewritten from X-Real-Ip/X-Forwarded-For by
// chi's RealIP middleware.
func extractIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
