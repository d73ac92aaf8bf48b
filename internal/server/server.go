// Package server exposes the upload coordinator over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/stefando/partupload/internal/upload"
)

// Uploader stores uploaded files. *upload.Coordinator implements it.
type Uploader interface {
	Upload(ctx context.Context, src upload.Source, filename string) (*upload.CompletedObject, error)
	UploadWhole(ctx context.Context, src upload.Source, filename string) (*upload.CompletedObject, error)
}

var _ Uploader = (*upload.Coordinator)(nil)

// Options configures request handling.
type Options struct {
	// UploadTimeout bounds one upload including retries
	UploadTimeout time.Duration

	// MaxUploadSize is the largest accepted file
	MaxUploadSize int64

	// Retries is the number of extra attempts after a retryable failure
	Retries   uint
	RetryWait time.Duration

	Logger logrus.FieldLogger
}

// Server handles upload requests.
type Server struct {
	uploader      Uploader
	uploadTimeout time.Duration
	maxUploadSize int64
	retries       uint
	retryWait     time.Duration
	log           logrus.FieldLogger
}

// New creates a Server backed by uploader.
func New(uploader Uploader, opts Options) *Server {
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 10 * time.Minute
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 5 << 30
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Server{
		uploader:      uploader,
		uploadTimeout: opts.UploadTimeout,
		maxUploadSize: opts.MaxUploadSize,
		retries:       opts.Retries,
		retryWait:     opts.RetryWait,
		log:           opts.Logger,
	}
}

// Router creates and configures the Chi router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware for all routes
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(allowAnyOrigin)

	r.Post("/partial_upload", s.handlePartialUpload)
	r.Post("/whole_upload", s.handleWholeUpload)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// allowAnyOrigin marks every response as readable from any origin and
// answers preflight requests directly.
func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
