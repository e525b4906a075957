package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// GetDiscount returns the public descriptor of a discount with its
// availability derived at request time. Usage counters and restriction
// sets stay private; storefronts only need to know what the code does
// and whether it can currently be applied.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Str(d.Code)
	e.FieldStart("type")
	e.Str(string(d.Type))
	e.FieldStart("value")
	encodeMoney(e, d.Value)
	if d.MinPurchase.IsPositive() {
		e.FieldStart("minPurchase")
		encodeMoney(e, d.MinPurchase)
	}
	if d.MaxDiscount.IsPositive() {
		e.FieldStart("maxDiscount")
		encodeMoney(e, d.MaxDiscount)
	}
	if !d.StartDate.IsZero() {
		e.FieldStart("startDate")
		e.Str(d.StartDate.UTC().Format(timeFormat))
	}
	if !d.EndDate.IsZero() {
		e.FieldStart("endDate")
		e.Str(d.EndDate.UTC().Format(timeFormat))
	}
	e.FieldStart("availability")
	e.Str(string(d.AvailabilityAt(time.Now())))
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}
