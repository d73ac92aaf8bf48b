package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/stefando/partupload/internal/upload"
)

const (
	formField = "file"

	// formOverhead leaves room for multipart boundaries and headers
	formOverhead = 1 << 20

	// maxFormMemory is kept in memory; the rest of the file spills to disk
	maxFormMemory = 32 << 20
)

type uploadFunc func(ctx context.Context, src upload.Source, filename string) (*upload.CompletedObject, error)

// handlePartialUpload stores the file, using parts when it is large
func (s *Server) handlePartialUpload(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.uploader.Upload)
}

// handleWholeUpload stores the file with a single request
func (s *Server) handleWholeUpload(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.uploader.UploadWhole)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, fn uploadFunc) {
	log := s.log.WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	})

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+formOverhead)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("file exceeds the %s limit", units.HumanSize(float64(s.maxUploadSize)))
		}
		s.writeError(w, log, fmt.Errorf("failed to parse upload form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formField)
	if err != nil {
		s.writeError(w, log, fmt.Errorf("failed to read %q form field: %w", formField, err))
		return
	}
	defer file.Close()

	if header.Size > s.maxUploadSize {
		s.writeError(w, log, fmt.Errorf("file exceeds the %s limit", units.HumanSize(float64(s.maxUploadSize))))
		return
	}

	log = log.WithFields(logrus.Fields{
		"filename": header.Filename,
		"size":     units.HumanSize(float64(header.Size)),
	})

	ctx, cancel := context.WithTimeout(r.Context(), s.uploadTimeout)
	defer cancel()

	src := upload.NewSource(file, header.Size)
	obj, err := s.uploadWithRetry(ctx, log, func(ctx context.Context) (*upload.CompletedObject, error) {
		return fn(ctx, src, header.Filename)
	})
	if err != nil {
		s.writeError(w, log, err)
		return
	}

	log.WithField("key", obj.Key).Info("file uploaded")
	writeJSON(w, http.StatusOK, UploadResponse{
		Message: uploadSucceeded,
		URL:     obj.Location,
	})
}

// uploadWithRetry repeats the whole upload while failures are retryable.
// Each attempt generates a fresh key, so a failed attempt never collides
// with the next one.
func (s *Server) uploadWithRetry(ctx context.Context, log logrus.FieldLogger, attempt func(context.Context) (*upload.CompletedObject, error)) (*upload.CompletedObject, error) {
	var obj *upload.CompletedObject
	err := retry.Times(s.retries).Wait(s.retryWait).TryWithAbort(func(n uint) (error, bool) {
		if n > 0 {
			log.WithField("attempt", n+1).Warn("retrying upload")
		}

		var err error
		obj, err = attempt(ctx)
		if err == nil {
			return nil, false
		}
		return err, !upload.IsRetryable(err) || ctx.Err() != nil
	})
	return obj, err
}

func (s *Server) writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	log.WithError(err).Error("upload failed")
	writeJSON(w, http.StatusBadRequest, UploadResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
