package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nanaosei/cropdoc"
	"github.com/nanaosei/cropdoc/crop"
	"github.com/nanaosei/cropdoc/internal/advice"
	"github.com/nanaosei/cropdoc/internal/batch"
	"github.com/nanaosei/cropdoc/internal/classify"
	"github.com/nanaosei/cropdoc/internal/registry"
)

const (
	serviceVersion = "1.0.0"

	maxUploadBytes = 10 << 20 // per image
	maxBatchBytes  = 64 << 20

	defaultHistoryLimit = 20
)

type Server struct {
	hs     *http.Server
	cd     *cropdoc.Cropdoc
	db     *cropdoc.DB
	logger *log.Logger

	// reg is nil until model loading finishes. Handlers fail fast with 503
	// while it is nil; after SetRegistry it is immutable.
	reg atomic.Pointer[registry.Registry]
}

func NewServer(cd *cropdoc.Cropdoc, db *cropdoc.DB, port string) *Server {
	srv := &Server{
		cd:     cd,
		db:     db,
		logger: log.Default(),
	}

	srv.hs = &http.Server{
		Addr:    net.JoinHostPort("0.0.0.0", port),
		Handler: srv.serveHandler(),
	}

	return srv
}

func (s *Server) Start() error {
	return s.hs.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

// SetRegistry publishes the loaded model registry to request handlers.
func (s *Server) SetRegistry(reg *registry.Registry) {
	s.reg.Store(reg)
}

func (s *Server) registry() *registry.Registry {
	return s.reg.Load()
}

func (s *Server) serveHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/classify", s.serveClassify())
	mux.Handle("POST /api/batch-classify", s.serveBatchClassify())
	mux.Handle("GET /api/crops", s.serveCrops())
	mux.Handle("GET /api/crops/{crop}", s.serveCropDetail())
	mux.Handle("GET /api/history", s.serveHistory())
	mux.Handle("GET /api/history/{id}", s.serveHistoryItem())
	mux.Handle("GET /health", s.serveHealth())
	mux.Handle("GET /{$}", s.serveRoot())

	return allowCORS(mux)
}

// allowCORS opens the API to browser clients on any origin, as the web and
// mobile frontends require.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// classifyError maps a pipeline error to an HTTP status.
func classifyError(err error) int {
	var unknown *crop.ErrUnknownCrop
	switch {
	case errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, classify.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) serveRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"message":         "Crop Disease Classification API",
			"version":         serviceVersion,
			"supported_crops": crop.Types(),
			"endpoints": map[string]string{
				"classification": "/api/classify",
				"health":         "/health",
			},
		})
	}
}

func (s *Server) serveHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reg := s.registry()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":        "healthy",
			"models_loaded": reg != nil && reg.Ready(),
		})
	}
}

// classifyResponse is the single-classification payload: the prediction
// plus upload metadata and optional advice.
type classifyResponse struct {
	Id int64 `json:"id,omitempty"`
	*classify.Prediction
	Filename     string         `json:"filename"`
	FileSize     int            `json:"file_size"`
	Notes        string         `json:"notes,omitempty"`
	UserQuestion string         `json:"user_question,omitempty"`
	Advice       *advice.Advice `json:"ai_advice,omitempty"`
	Status       string         `json:"status"`
}

func (s *Server) serveClassify() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
			s.writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}

		ct, err := crop.Parse(req.FormValue("crop_type"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		file, header, err := req.FormFile("image")
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name")
			return
		}
		defer file.Close()

		reg := s.registry()
		if reg == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Models are still loading. Please try again in a moment.")
			return
		}

		imageBytes, err := io.ReadAll(file)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Failed to read image")
			return
		}
		if len(imageBytes) == 0 {
			s.writeError(w, http.StatusBadRequest, "Empty image file")
			return
		}

		pred, err := classify.Classify(reg, imageBytes, ct)
		if err != nil {
			status := classifyError(err)
			if status == http.StatusInternalServerError {
				s.logger.Printf("classification error: %v", err)
				s.writeError(w, status, "Prediction failed")
			} else {
				s.writeError(w, status, err.Error())
			}
			return
		}

		notes := req.FormValue("notes")
		question := req.FormValue("question")

		resp := classifyResponse{
			Prediction:   pred,
			Filename:     header.Filename,
			FileSize:     len(imageBytes),
			Notes:        notes,
			UserQuestion: question,
			Status:       "success",
		}

		if adviceEnabled(req.FormValue("advice")) {
			a := s.cd.Advisor.Generate(req.Context(), advice.Request{
				Crop:        pred.CropType,
				Disease:     pred.PredictedDisease,
				Confidence:  pred.Confidence,
				Healthy:     pred.IsHealthy,
				Description: pred.Description,
				Notes:       notes,
				Question:    question,
			})
			resp.Advice = &a
		}

		resp.Id = s.record(req.Context(), &resp)

		s.logger.Printf("classified %s image as %s (%.2f%%)", ct, pred.PredictedDisease, pred.Confidence)
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// adviceEnabled interprets the optional "advice" form field. Advice is on
// by default for single classifications.
func adviceEnabled(v string) bool {
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

// batchAdviceEnabled interprets the "advice" field for batches, where
// advice is off by default to bound total latency.
func batchAdviceEnabled(v string) bool {
	enabled, err := strconv.ParseBool(v)
	return err == nil && enabled
}

// record stores the classification in the history DB. Best-effort: failures
// are logged, never surfaced to the client.
func (s *Server) record(ctx context.Context, resp *classifyResponse) int64 {
	rec := &cropdoc.Record{
		CropType:         string(resp.CropType),
		PredictedDisease: resp.PredictedDisease,
		Confidence:       resp.Confidence,
		IsHealthy:        resp.IsHealthy,
		Description:      resp.Description,
		Filename:         resp.Filename,
		FileSize:         int64(resp.FileSize),
		Notes:            resp.Notes,
	}
	if resp.Advice != nil {
		if b, err := json.Marshal(resp.Advice); err == nil {
			rec.Advice = string(b)
		}
	}

	if err := s.db.InsertRecord(ctx, rec); err != nil {
		s.logger.Printf("recording classification: %v", err)
		return 0
	}
	return rec.Id
}

func (s *Server) serveBatchClassify() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(maxBatchBytes); err != nil {
			s.writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}

		reg := s.registry()
		if reg == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Models are still loading. Please try again in a moment.")
			return
		}

		files := req.MultipartForm.File["images"]
		breq := batch.Request{
			Images:     make([][]byte, 0, len(files)),
			Filenames:  make([]string, 0, len(files)),
			CropTypes:  req.MultipartForm.Value["crop_types"],
			Notes:      req.MultipartForm.Value["notes"],
			WithAdvice: batchAdviceEnabled(req.FormValue("advice")),
		}

		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "Failed to read uploaded image "+fh.Filename)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "Failed to read uploaded image "+fh.Filename)
				return
			}
			breq.Images = append(breq.Images, data)
			breq.Filenames = append(breq.Filenames, fh.Filename)
		}

		summary, err := batch.Run(req.Context(), reg, s.cd.Advisor, breq)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		s.writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) serveCrops() http.HandlerFunc {
	type cropInfo struct {
		Classes     []string `json:"classes"`
		ModelLoaded bool     `json:"model_loaded"`
	}

	return func(w http.ResponseWriter, req *http.Request) {
		reg := s.registry()

		details := make(map[crop.Type]cropInfo, len(crop.Types()))
		for _, ct := range crop.Types() {
			p, err := crop.Lookup(ct)
			if err != nil {
				continue
			}
			details[ct] = cropInfo{
				Classes:     p.Classes,
				ModelLoaded: reg != nil && reg.Loaded(ct),
			}
		}

		s.writeJSON(w, http.StatusOK, map[string]any{
			"supported_crops": crop.Types(),
			"crop_details":    details,
			"total_crops":     len(crop.Types()),
		})
	}
}

func (s *Server) serveCropDetail() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ct, err := crop.Parse(req.PathValue("crop"))
		if err != nil {
			s.writeError(w, http.StatusNotFound, "Crop type '"+req.PathValue("crop")+"' not found")
			return
		}
		p, err := crop.Lookup(ct)
		if err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}

		reg := s.registry()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"crop_type":     ct,
			"classes":       p.Classes,
			"total_classes": len(p.Classes),
			"model_loaded":  reg != nil && reg.Loaded(ct),
			"description":   "Disease classification model for " + string(ct) + " crops",
		})
	}
}

// historyItem is the JSON view of a stored classification.
type historyItem struct {
	Id               int64           `json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	CropType         string          `json:"crop_type"`
	PredictedDisease string          `json:"predicted_disease"`
	Confidence       float64         `json:"confidence"`
	IsHealthy        bool            `json:"is_healthy"`
	Description      string          `json:"description,omitempty"`
	Filename         string          `json:"filename,omitempty"`
	FileSize         int64           `json:"file_size,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Advice           json.RawMessage `json:"ai_advice,omitempty"`
}

func historyView(rec *cropdoc.Record) historyItem {
	item := historyItem{
		Id:               rec.Id,
		CreatedAt:        rec.CreatedAt,
		CropType:         rec.CropType,
		PredictedDisease: rec.PredictedDisease,
		Confidence:       rec.Confidence,
		IsHealthy:        rec.IsHealthy,
		Description:      rec.Description,
		Filename:         rec.Filename,
		FileSize:         rec.FileSize,
		Notes:            rec.Notes,
	}
	if rec.Advice != "" {
		item.Advice = json.RawMessage(rec.Advice)
	}
	return item
}

func (s *Server) serveHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := defaultHistoryLimit
		if v := req.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		recs, err := s.db.RecentRecords(req.Context(), limit)
		if err != nil {
			s.logger.Printf("listing history: %v", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to list history")
			return
		}

		items := make([]historyItem, len(recs))
		for i, rec := range recs {
			items[i] = historyView(rec)
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"total":   len(items),
			"results": items,
		})
	}
}

func (s *Server) serveHistoryItem() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid history id")
			return
		}

		rec, err := s.db.GetRecord(req.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, "Classification not found")
			return
		}
		if err != nil {
			s.logger.Printf("fetching history %d: %v", id, err)
			s.writeError(w, http.StatusInternalServerError, "Failed to fetch classification")
			return
		}

		s.writeJSON(w, http.StatusOK, historyView(rec))
	}
}

// marshalAdvice generates advice for a prediction and returns it as JSON
// text for storage, or empty on marshal failure.
func marshalAdvice(ctx context.Context, cd *cropdoc.Cropdoc, pred *classify.Prediction) string {
	a := cd.Advisor.Generate(ctx, advice.Request{
		Crop:        pred.CropType,
		Disease:     pred.PredictedDisease,
		Confidence:  pred.Confidence,
		Healthy:     pred.IsHealthy,
		Description: pred.Description,
	})
	b, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(b)
}
