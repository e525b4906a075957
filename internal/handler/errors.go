package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/ledger"
	"github.com/cartloop/promo-engine/internal/domain/promo"
)

// writeError maps domain errors to HTTP responses. Evaluation-phase
// reasons come back as 422 with the reason identifier so storefronts
// can explain the failure verbatim.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ineligible *promo.IneligibleError
	switch {
	case errors.As(err, &ineligible):
		writeErrorBody(w, http.StatusUnprocessableEntity, "discount not applicable", string(ineligible.Reason))
	case errors.Is(err, discount.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "discount code not found", "")
	case errors.Is(err, ledger.ErrConcurrentLimitExceeded):
		writeErrorBody(w, http.StatusConflict, "all usage slots held by concurrent reservations", "concurrent_limit_exceeded")
	case errors.Is(err, ledger.ErrUsageExhausted):
		writeErrorBody(w, http.StatusConflict, "discount usage limit exhausted", string(discount.ReasonUsageExhausted))
	case errors.Is(err, ledger.ErrAlreadyCommitted):
		writeErrorBody(w, http.StatusConflict, "reservation already committed", "already_committed")
	case errors.Is(err, ledger.ErrReservationExpired):
		writeErrorBody(w, http.StatusGone, "reservation expired", "reservation_expired")
	case errors.Is(err, ledger.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "reservation not found", "")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeErrorBody(w, http.StatusInternalServerError, "internal server error", "")
	}
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeErrorBody(w, http.StatusBadRequest, err.Error(), "")
}

func writeErrorBody(w http.ResponseWriter, status int, message, reason string) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	if reason != "" {
		e.FieldStart("reason")
		e.Str(reason)
	}
	e.ObjEnd()
	writeJSON(w, status, e)
}
