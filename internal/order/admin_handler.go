package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
)

// AdminHandler exposes read-only order inspection for back-office staff.
type AdminHandler struct {
	Store Store
}

// Get returns the order identified by the orderRef URL parameter, notes included.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	ref := common.SanitizeText(chi.URLParam(r, "orderRef"), 64)
	if ref == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order reference is required", nil)
		return
	}
	ord, err := h.Store.FindByID(r.Context(), ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("order_ref", ref).Msg("admin_order_lookup_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if ord.Notes == nil {
		ord.Notes = []Note{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}
