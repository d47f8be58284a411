// Package api exposes the file lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HilloriDesai/FileUpload/internal/config"
	"github.com/HilloriDesai/FileUpload/internal/service"
	"github.com/HilloriDesai/FileUpload/internal/validation"
)

// Server exposes HTTP endpoints for uploads and file visibility.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	logger *zap.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, svc *service.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, svc: svc, logger: logger}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/files", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleListRestored)
		r.Get("/shared", s.handleListShared)
		r.Get("/bin", s.handleListBin)
		r.Get("/owners", s.handleListOwners)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/download", s.handleDownload)
			r.Post("/bin", s.handleMoveToBin)
			r.Post("/restore", s.handleRestore)
			r.Post("/share", s.handleShare)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Router(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		s.logger.Warn("upload rejected", zap.String("op", "upload"), zap.Error(err))
		respondErrorMessage(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	tmp, fields, err := s.readUploadForm(mr)
	if err != nil {
		// MaxBytesReader tripping mid-form means the body blew past the cap
		// plus slack; surface it as the size-limit rejection, not a generic
		// form error.
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondServiceError(w, "upload", &service.ValidationError{
				Reason: fmt.Errorf("%w: body exceeds limit of %d bytes", validation.ErrPayloadTooLarge, s.cfg.MaxUploadSize),
			})
			return
		}
		s.logger.Warn("upload rejected", zap.String("op", "upload"), zap.Error(err))
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if tmp == nil {
		s.logger.Warn("upload rejected", zap.String("op", "upload"), zap.String("reason", "file part missing"))
		respondErrorMessage(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	rec, err := s.svc.Upload(ctx, service.UploadInput{
		Filename:    tmp.filename,
		Title:       fields["title"],
		OwnerID:     fields["owner_id"],
		Content:     tmp.f,
		Size:        tmp.size,
		ContentType: tmp.contentType,
	})
	if err != nil {
		s.respondServiceError(w, "upload", err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, "get", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRestored(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.ListRestored(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		s.respondServiceError(w, "list restored", err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleListShared(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.ListShared(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.respondServiceError(w, "list shared", err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleListBin(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.ListBin(r.Context())
	if err != nil {
		s.respondServiceError(w, "list bin", err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.svc.ListOwners(r.Context())
	if err != nil {
		s.respondServiceError(w, "list owners", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"owners": owners})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, "download", err)
		return
	}
	defer res.Content.Close()

	contentType := mime.TypeByExtension("." + res.Record.FileType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Record.FileSize, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Content); err != nil {
		s.logger.Warn("download interrupted", zap.String("id", res.Record.ID), zap.Error(err))
	}
}

func (s *Server) handleMoveToBin(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.MoveToBin(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, "move to bin", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "file moved to bin"})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Restore(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, "restore", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "file restored"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.PermanentlyDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, "permanently delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("share rejected", zap.String("op", "share"), zap.String("id", chi.URLParam(r, "id")), zap.Error(err))
		respondErrorMessage(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.svc.ShareWith(r.Context(), chi.URLParam(r, "id"), req.UserIDs); err != nil {
		s.respondServiceError(w, "share", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "file shared"})
}

// tempUpload spools the file part to disk so the payload size is known before
// the blob store is touched.
type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// readUploadForm walks the multipart parts, spooling the file part to a temp
// file and collecting plain form fields. Field order is not assumed.
func (s *Server) readUploadForm(mr *multipart.Reader) (*tempUpload, map[string]string, error) {
	var tmp *tempUpload
	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if tmp != nil {
				tmp.f.Close()
				os.Remove(tmp.path)
			}
			return nil, nil, fmt.Errorf("read form: %w", err)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			if tmp != nil {
				part.Close()
				continue
			}
			tmp, err = s.persistTemp(part)
			part.Close()
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, 1<<20))
		part.Close()
		if err != nil {
			if tmp != nil {
				tmp.f.Close()
				os.Remove(tmp.path)
			}
			return nil, nil, fmt.Errorf("read field %s: %w", part.FormName(), err)
		}
		fields[part.FormName()] = string(data)
	}
	return tmp, fields, nil
}

// persistTemp copies the part to a temp file, counting bytes and sniffing the
// content type. Reading stops just past the size cap; the service rejects the
// oversize payload before any storage side effect.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "fileupload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for written <= s.cfg.MaxUploadSize {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file part: %w", readErr))
		}
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	filename := part.FileName()
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

// respondServiceError maps the error taxonomy onto HTTP statuses: validation
// failures are 400 with the specific reason, missing resources are 404, and
// everything else is logged and surfaced as a generic 500.
func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	if service.IsValidation(err) {
		s.logger.Warn("request rejected", zap.String("op", op), zap.Error(err))
		respondErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, service.ErrNotFound) {
		respondErrorMessage(w, http.StatusNotFound, "resource not found")
		return
	}
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	respondErrorMessage(w, http.StatusInternalServerError, "an unexpected error occurred")
}

func respondErrorMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
