package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Preview evaluates and prices a discount code against a cart without
// consuming a usage slot. Safe to call on every cart edit.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, err := decodePromoRequest(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	result, err := h.engine.Preview(r.Context(), req.Cart, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Str(result.Code)
	e.FieldStart("eligible")
	e.Bool(result.Eligible)
	if !result.Eligible {
		e.FieldStart("reason")
		e.Str(string(result.Reason))
	}
	e.FieldStart("amount")
	encodeMoney(e, result.Amount)
	e.FieldStart("finalTotal")
	encodeMoney(e, result.FinalTotal)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}

// Reserve evaluates, prices, and atomically claims one usage slot,
// returning the token to commit or release during checkout.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	req, err := decodePromoRequest(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	result, err := h.engine.ReserveAndPrice(r.Context(), req.Cart, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("token")
	e.Str(result.Token.String())
	e.FieldStart("amount")
	encodeMoney(e, result.Amount)
	e.FieldStart("finalTotal")
	encodeMoney(e, result.FinalTotal)
	e.FieldStart("expiresAt")
	e.Str(result.ExpiresAt.UTC().Format(timeFormat))
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, e)
}

// Commit finalizes a reservation after successful payment.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.engine.Commit(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Release abandons a reservation, returning its usage slot.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.engine.Release(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReservation returns the audit record for a token.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	res, err := h.engine.Reservation(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("token")
	e.Str(res.Token.String())
	e.FieldStart("discountId")
	e.Str(res.DiscountID)
	e.FieldStart("cartId")
	e.Str(res.CartID)
	e.FieldStart("state")
	e.Str(string(res.State))
	e.FieldStart("createdAt")
	e.Str(res.CreatedAt.UTC().Format(timeFormat))
	e.FieldStart("expiresAt")
	e.Str(res.ExpiresAt.UTC().Format(timeFormat))
	if res.CommittedAt != nil {
		e.FieldStart("committedAt")
		e.Str(res.CommittedAt.UTC().Format(timeFormat))
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func tokenParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "token"))
}
