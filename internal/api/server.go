// Package api mounts the one HTTP route the core owns: streaming a book's
// cached artifact. It composes as a sub-mux so an external collaborator's
// REST surface (auth, catalog queries, the rest of §6's "surrounding REST
// surface... out of scope") can mount alongside it.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vorleser/vorleser-server/internal/catalog"
	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
	"github.com/vorleser/vorleser-server/internal/stream"
)

// Server serves GET /data/{book_id}.
type Server struct {
	cat      *catalog.Catalog
	dataDir  string
	router   *chi.Mux
	logger   *slog.Logger
	original *stream.Responder
}

// NewServer constructs the server, wiring routes and middleware.
func NewServer(cat *catalog.Catalog, dataDir string, logger *slog.Logger) *Server {
	s := &Server{
		cat:      cat,
		dataDir:  dataDir,
		router:   chi.NewRouter(),
		logger:   logger,
		original: stream.New("", logger),
	}

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Range", "Accept"},
		ExposedHeaders: []string{"Content-Range", "Accept-Ranges", "Content-Length"},
		MaxAge:         300,
	}))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/data/{book_id}", s.handleStreamArtifact)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleStreamArtifact resolves a book id against the Catalog and streams
// its cached artifact via the RangedResponder.
func (s *Server) handleStreamArtifact(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "book_id")

	book, err := s.cat.FindBookByID(r.Context(), bookID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if book == nil || book.Deleted {
		s.writeError(w, vorlerrors.NotFoundf("book %s", bookID))
		return
	}

	artifact := bookID
	if book.FileExtension != "" {
		artifact = bookID + "." + book.FileExtension
	}
	path := filepath.Join(s.dataDir, artifact)

	if err := s.original.ServeFile(w, r, path); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var domainErr *vorlerrors.Error
	status := http.StatusInternalServerError
	if errors.As(err, &domainErr) {
		status = domainErr.HTTPStatus()
	}
	s.logger.Error("request failed", "error", err, "status", status)
	http.Error(w, err.Error(), status)
}
