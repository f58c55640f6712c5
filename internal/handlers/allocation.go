package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/allocation"
	"github.com/stanstork/stockflow-api/internal/backend"
)

type RemainingCalculator interface {
	Remaining(ctx context.Context, orderID string) (allocation.Report, error)
}

type AllocationHandler struct {
	calculator RemainingCalculator
	logger     zerolog.Logger
}

func NewAllocationHandler(calculator RemainingCalculator, logger zerolog.Logger) *AllocationHandler {
	return &AllocationHandler{
		calculator: calculator,
		logger:     logger.With().Str("handler", "allocation").Logger(),
	}
}

// Remaining returns per-product ordered, exported and remaining quantities.
// An incomplete aggregation is answered with 502 and the partial report so
// callers never read it as "nothing exported".
func (h *AllocationHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(mux.Vars(r)["orderID"])
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	rep, err := h.calculator.Remaining(r.Context(), orderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rep)
	case errors.Is(err, allocation.ErrAggregationFailed), errors.Is(err, allocation.ErrPageLimitReached):
		h.logger.Warn().Err(err).Str("order_id", orderID).Msg("allocation report incomplete")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"report": rep,
		})
	case errors.Is(err, backend.ErrNotFound):
		http.Error(w, "Order not found", http.StatusNotFound)
	default:
		h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to compute allocation")
		http.Error(w, "Failed to compute allocation", http.StatusBadGateway)
	}
}
