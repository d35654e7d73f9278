// internal/handler/http.go
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
	"github.com/SyedDaiam9101/neurotone-service/internal/middleware"
	"github.com/SyedDaiam9101/neurotone-service/internal/predictor"
)

// UploadField is the multipart form field holding the audio file
const UploadField = "file"

const runningMessage = "NeuroTone Dementia Detection API is running."

// HTTPOptions configures the public HTTP API
type HTTPOptions struct {
	MaxUploadBytes int64
	CORSOrigins    []string
	// SlowRequest marks slower requests as warnings in the access log
	SlowRequest time.Duration
	Logger      *logger.Logger
}

type predictResponse struct {
	Probability float64 `json:"probability"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	RequestID string `json:"request_id,omitempty"`
}

type httpAPI struct {
	pred      Predictor
	maxUpload int64
	log       *logger.Logger
}

// NewRouter returns the public API: GET / and POST /predict
func NewRouter(pred Predictor, opt HTTPOptions) http.Handler {
	log := opt.Logger
	if log == nil {
		log = logger.Named("http")
	}
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = 32 << 20
	}
	api := &httpAPI{pred: pred, maxUpload: opt.MaxUploadBytes, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{Logger: log, Slow: opt.SlowRequest}))
	r.Use(middleware.HTTPMetrics)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(opt.CORSOrigins))

	r.Get("/", api.root)
	r.Post("/predict", api.predict)
	return r
}

func (a *httpAPI) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: runningMessage})
}

func (a *httpAPI) predict(w http.ResponseWriter, r *http.Request) {
	log := logger.C(r.Context(), a.log)

	if a.pred == nil || !a.pred.Ready() {
		a.fail(w, r, http.StatusServiceUnavailable, predictor.CategoryNotReady, predictor.ErrNotReady.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			a.fail(w, r, http.StatusRequestEntityTooLarge, predictor.CategoryBadInput, "uploaded file is too large")
			return
		}
		a.fail(w, r, http.StatusBadRequest, predictor.CategoryBadInput, "failed to read uploaded file: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile(UploadField)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, predictor.CategoryBadInput, "missing form field \""+UploadField+"\"")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, predictor.CategoryBadInput, "failed to read uploaded file: "+err.Error())
		return
	}
	log.Info().Str("filename", hdr.Filename).Int("bytes", len(raw)).Msg("received file")

	res, err := a.pred.Predict(r.Context(), raw)
	if err != nil {
		cat := predictor.CategoryOf(err)
		if cat == predictor.CategoryInternal {
			log.Error().Err(err).Msg("prediction failed")
		} else {
			log.Warn().Err(err).Msg("prediction rejected")
		}
		a.fail(w, r, httpStatus(cat), cat, publicMessage(err))
		return
	}

	// JSON has no NaN
	if math.IsNaN(res.Probability) || math.IsInf(res.Probability, 0) {
		log.Error().Msg("model produced a non-finite probability")
		a.fail(w, r, http.StatusInternalServerError, predictor.CategoryInternal, "model produced a non-finite probability")
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{Probability: res.Probability})
}

func (a *httpAPI) fail(w http.ResponseWriter, r *http.Request, status int, cat predictor.Category, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Category:  string(cat),
		RequestID: logger.RequestID(r.Context()),
	})
}

// writeJSON writes v as application/json with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
