// Package diag serves read-only snapshot diagnostics over HTTP: the
// handles of a device, the text dumps of a handle and its archived
// captures.
package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pipesnap/internal/capstore"
	"pipesnap/internal/common"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
	"pipesnap/snapshot"
)

// Server is the diagnostics surface of a registry.
type Server struct {
	reg     *snapshot.Registry
	archive *capstore.Store
	log     common.Logger
}

// New creates a diagnostics server. archive may be nil.
func New(reg *snapshot.Registry, archive *capstore.Store, log common.Logger) *Server {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Server{reg: reg, archive: archive, log: log}
}

// Routes returns the router of the diagnostics surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/devices/{dev}/handles", s.handleHandles)
	r.Route("/handles/{handle}", func(r chi.Router) {
		r.Get("/state", s.handleDump(s.reg.DumpState))
		r.Get("/config", s.handleDump(s.reg.DumpConfig))
		r.Get("/capture/{pipe}", s.handleCapture)
		r.Get("/archive", s.handleArchive)
	})
	return r
}

// ListenAndServe serves Routes on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Logf(common.SeverityInfo, "diagnostics listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func status(err error) int {
	switch common.CodeOf(err) {
	case psnap.ErrInvalidArg:
		return http.StatusBadRequest
	case psnap.ErrObjectNotFound:
		return http.StatusNotFound
	case psnap.ErrNotSupported:
		return http.StatusConflict
	case psnap.ErrNoSysResources:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		s.log.Error(err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

func parseHandle(r *http.Request) (handle.Handle, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "handle"), 0, 32)
	if err != nil {
		return 0, common.Errorf(psnap.ErrInvalidArg, "bad handle %q", chi.URLParam(r, "handle"))
	}
	return handle.Handle(v), nil
}

type handleJSON struct {
	Handle string `json:"handle"`
	Desc   string `json:"desc"`
}

func (s *Server) handleHandles(w http.ResponseWriter, r *http.Request) {
	dev, err := strconv.Atoi(chi.URLParam(r, "dev"))
	if err != nil || dev < 0 || dev >= psnap.MaxDevices {
		s.writeError(w, common.Errorf(psnap.ErrInvalidArg, "bad device %q", chi.URLParam(r, "dev")))
		return
	}
	hs, err := s.reg.Handles(psnap.DevID(dev))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]handleJSON, 0, len(hs))
	for _, h := range hs {
		out = append(out, handleJSON{Handle: h.String(), Desc: h.Describe()})
	}
	writeJSON(w, out)
}

type dumpFunc func(w io.Writer, h handle.Handle) error

func (s *Server) handleDump(dump dumpFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := parseHandle(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		var buf bytes.Buffer
		if err := dump(&buf, h); err != nil {
			s.writeError(w, err)
			return
		}
		writeText(w, &buf)
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	h, err := parseHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pipe, err := strconv.Atoi(chi.URLParam(r, "pipe"))
	if err != nil {
		s.writeError(w, common.Errorf(psnap.ErrInvalidArg, "bad pipe %q", chi.URLParam(r, "pipe")))
		return
	}
	raw := r.URL.Query().Get("raw") != ""
	var buf bytes.Buffer
	if err := s.reg.DumpCapture(&buf, h, pipe, raw); err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, &buf)
}

type recordJSON struct {
	ID      string    `json:"id"`
	Pipe    int       `json:"pipe"`
	TakenAt time.Time `json:"taken_at"`
	Stages  []int     `json:"stages"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "no capture archive configured", http.StatusNotFound)
		return
	}
	h, err := parseHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.archive.List(r.Context(), h)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]recordJSON, 0, len(recs))
	for _, rec := range recs {
		rj := recordJSON{ID: rec.ID.String(), Pipe: rec.Pipe, TakenAt: rec.TakenAt, Stages: []int{}}
		for _, st := range rec.Stages {
			if st.Data != nil {
				rj.Stages = append(rj.Stages, st.Data.Stage)
			}
		}
		out = append(out, rj)
	}
	writeJSON(w, out)
}
