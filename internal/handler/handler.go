// internal/handler/handler.go
package handler

import (
	"context"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
	"github.com/SyedDaiam9101/neurotone-service/internal/predictor"
)

// Predictor is the part of *predictor.Predictor the transports need
type Predictor interface {
	Predict(ctx context.Context, raw []byte) (predictor.Result, error)
	Ready() bool
}

// Handler implements ScreeningServer.
// It uses the Predictor interface for flexibility and testability.
type Handler struct {
	pred Predictor
	log  *logger.Logger
}

// New creates a new Handler around pred. A nil logger uses the root logger.
func New(pred Predictor, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Named("grpc")
	}
	return &Handler{
		pred: pred,
		log:  log,
	}
}

// Predict scores one encoded audio file. The response carries the
// positive class probability, which may be NaN.
func (h *Handler) Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.DoubleValue, error) {
	start := time.Now()
	log := logger.C(ctx, h.log)

	if h.pred == nil {
		return nil, unavailableError("predictor not initialized")
	}
	if !h.pred.Ready() {
		return nil, grpcError(&predictor.Error{Kind: predictor.KindNotReady, Stage: predictor.StageReceived, Err: predictor.ErrNotReady})
	}

	if req == nil || len(req.GetValue()) == 0 {
		return nil, invalidArgumentError("audio payload cannot be empty")
	}

	res, err := h.pred.Predict(ctx, req.GetValue())
	if err != nil {
		log.Warn().Err(err).Str("category", string(predictor.CategoryOf(err))).Msg("prediction failed")
		return nil, grpcError(err)
	}

	if math.IsNaN(res.Probability) {
		log.Warn().Msg("returning NaN probability")
	}
	log.Debug().
		Float64("probability", res.Probability).
		Bool("cached", res.Cached).
		Float64("total_ms", float64(time.Since(start).Microseconds())/1000.0).
		Msg("Predict")

	return wrapperspb.Double(res.Probability), nil
}
