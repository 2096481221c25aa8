package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tdewolff/minify/v2"
	"golang.org/x/net/webdav"

	"filedrop/internal/config"
	"filedrop/internal/dropdir"
	"filedrop/internal/endpoint"
	"filedrop/internal/pages"
)

// ErrMalformedUpload is returned for an upload request without a "file" part.
var ErrMalformedUpload = errors.New("malformed upload")

// uploadField is the multipart field name every uploaded file arrives under.
const uploadField = "file"

// Options are the collaborators a Server is built from.
type Options struct {
	Config config.Config
	Dir    *dropdir.Dir
	// Endpoints is the discovery result. It is read-only for the server's
	// lifetime.
	Endpoints []endpoint.Endpoint
	Pages     pages.Source
	Logger    *log.Logger
}

// Server serves the drop page, uploads and the dropped files.
type Server struct {
	cfg       config.Config
	dir       *dropdir.Dir
	endpoints []endpoint.Endpoint
	reachable []endpoint.Endpoint
	pages     pages.Source
	logger    *log.Logger
	minifier  *minify.M
}

// New checks opts and builds a Server. Dir and Pages are required.
func New(opts Options) (*Server, error) {
	if opts.Dir == nil {
		return nil, errors.New("httpserver: drop directory is required")
	}
	if opts.Pages == nil {
		return nil, errors.New("httpserver: page templates are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:       opts.Config,
		dir:       opts.Dir,
		endpoints: opts.Endpoints,
		reachable: endpoint.Reachable(opts.Endpoints),
		pages:     opts.Pages,
		logger:    logger,
	}
	if opts.Config.Minify {
		s.minifier = newMinifier()
	}
	return s, nil
}

// Handler returns the HTTP handler for every route, WebDAV included when
// enabled.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(withHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Get("/", s.handleIndex)
	r.Post("/upload", s.handleUpload)
	r.Get("/qr/{n}", s.handleQR)
	r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(s.dir.Path()))))

	if !s.cfg.WebDAV {
		return r
	}
	// WebDAV methods (PROPFIND, MKCOL, ...) are not routable through chi, so
	// the DAV handler sits beside the router rather than inside it.
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(s.dir.Path()),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.logger.Printf("webdav %s %s: %v", r.Method, r.URL.Path, err)
			}
		},
	}
	root := http.NewServeMux()
	root.Handle("/dav/", requestID(s.logRequests(dav)))
	root.Handle("/", r)
	return root
}

// --- handlers ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	files, err := s.dir.Snapshot()
	if err != nil {
		s.logger.Printf("list %s: %v", s.dir.Path(), err)
		http.Error(w, "drop directory unavailable", http.StatusInternalServerError)
		return
	}
	set, err := s.pages.Templates()
	if err != nil {
		s.logger.Printf("templates: %v", err)
		http.Error(w, "templates unavailable", http.StatusInternalServerError)
		return
	}
	page, err := pages.Assemble(set, pages.Data{
		Title:     s.cfg.Title,
		Files:     files,
		Endpoints: s.endpoints,
	})
	if err != nil {
		s.logger.Printf("render index: %v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	if s.minifier != nil {
		page = s.minifyHTML(page)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

// handleUpload stores every part named "file" and redirects back to the
// listing. Parts under other names are ignored. A request that fails part way
// removes the files it already stored before answering, so a client never
// sees an error for an upload that left files behind.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	stored, err := s.ingestParts(r)
	if err != nil {
		s.discard(stored)
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit), http.StatusRequestEntityTooLarge)
		case errors.Is(err, ErrMalformedUpload), errors.Is(err, dropdir.ErrUnsafeName):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Printf("upload: %v", err)
			http.Error(w, "upload failed", http.StatusInternalServerError)
		}
		return
	}
	for _, path := range stored {
		s.logger.Printf("Uploaded %s", path)
	}
	if len(stored) == 0 {
		s.logger.Printf("upload without a file name ignored")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ingestParts returns the paths stored so far, also on error.
func (s *Server) ingestParts(r *http.Request) ([]string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	var seen bool
	var stored []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return stored, err
			}
			return stored, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		seen = true
		path, err := s.ingestPart(part)
		if err != nil {
			return stored, err
		}
		if path != "" {
			stored = append(stored, path)
		}
	}
	if !seen {
		return stored, fmt.Errorf("%w: no %q part", ErrMalformedUpload, uploadField)
	}
	return stored, nil
}

func (s *Server) ingestPart(part *multipart.Part) (string, error) {
	defer part.Close()
	return s.dir.Ingest(part.FileName(), part)
}

// discard removes files stored by a request that then failed.
func (s *Server) discard(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("Warning: failed to remove %s: %v", path, err)
		}
	}
}

// handleQR serves the QR code of the n-th reachable endpoint as an SVG file.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(strings.TrimSuffix(chi.URLParam(r, "n"), ".svg"))
	if err != nil || n < 0 || n >= len(s.reachable) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = io.WriteString(w, s.reachable[n].Document())
}
