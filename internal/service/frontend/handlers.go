package frontend

import (
	"errors"
	"maps"
	"mime"
	"net/http"
	"path"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/record"
	"github.com/skymosaic/skymosaic/internal/ingest"
	"github.com/skymosaic/skymosaic/internal/tiles"
)

// categoryField is the form field naming the category of every file of an
// upload request.
const categoryField = "sat_type"

const multipartMemory = 32 << 20

type uploadResponse struct {
	Accepted int `json:"accepted"`
	Ignored  int `json:"ignored"`
}

type windowsResponse struct {
	UpdateRate int                   `json:"update_rate"`
	Counter    int                   `json:"counter"`
	Windows    []windowsResponseItem `json:"windows"`
}

type windowsResponseItem struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (srv *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if limit := srv.config.Server.MaxUploadSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	values, ok := r.MultipartForm.Value[categoryField]
	if !ok || len(values) == 0 {
		writeError(w, http.StatusBadRequest, "missing "+categoryField)
		return
	}
	category := values[0]

	var resp uploadResponse
	keys := slices.Sorted(maps.Keys(r.MultipartForm.File))
	for _, key := range keys {
		for _, fh := range r.MultipartForm.File[key] {
			f, err := fh.Open()
			if err != nil {
				logger.Error(ctx, "Failed to open uploaded file", tag.File(fh.Filename), tag.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to read upload")
				return
			}
			accepted, err := srv.uploader.Accept(ctx, category, fh.Filename, f)
			_ = f.Close()
			switch {
			case errors.Is(err, ingest.ErrInvalidCategory):
				writeError(w, http.StatusBadRequest, err.Error())
				return
			case err != nil:
				logger.Error(ctx, "Failed to store upload", tag.File(fh.Filename), tag.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to store upload")
				return
			case accepted:
				resp.Accepted++
			default:
				resp.Ignored++
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (srv *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	tile, err := srv.tiles.Read(r.Context(), rel)
	if errors.Is(err, tiles.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.Error(r.Context(), "Failed to read tile", tag.Path(rel), tag.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if ctype := mime.TypeByExtension(path.Ext(tile.Name)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	w.Header().Set("Last-Modified", tile.ModTime.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(tile.Data)
	}
}

func (srv *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	rec, err := srv.records.Load(r.Context())
	if errors.Is(err, record.ErrNotFound) {
		rec = &record.Record{UpdateRate: int(srv.config.Scheduler.UpdateRate / time.Second)}
	} else if err != nil {
		logger.Error(r.Context(), "Failed to load record", tag.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}

	resp := windowsResponse{
		UpdateRate: rec.UpdateRate,
		Counter:    rec.Counter,
		Windows:    make([]windowsResponseItem, 0, len(rec.Windows)),
	}
	for _, idx := range slices.Sorted(maps.Keys(rec.Windows)) {
		resp.Windows = append(resp.Windows, windowsResponseItem{Index: idx, Label: rec.Windows[idx]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
