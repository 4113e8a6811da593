package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aircast/internal/httputil"
	"aircast/internal/service"
)

// AirQualityHandler proxies OpenAQ location lookups for the browser so the
// upstream API key never reaches the client.
type AirQualityHandler struct {
	air *service.AirQualityService
}

func NewAirQualityHandler(air *service.AirQualityService) *AirQualityHandler {
	return &AirQualityHandler{air: air}
}

// SearchLocations handles GET /air/locations
func (h *AirQualityHandler) SearchLocations(w http.ResponseWriter, r *http.Request) {
	if !h.air.Configured() {
		httputil.WriteInternalError(w, "Server missing OPENAQ_API_KEY environment variable")
		return
	}

	body, err := h.air.SearchLocations(r.Context(), r.URL.Query())
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	httputil.WriteRawJSON(w, http.StatusOK, body)
}

// GetLocation handles GET /air/locations/{id}
func (h *AirQualityHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	if !h.air.Configured() {
		httputil.WriteInternalError(w, "Server missing OPENAQ_API_KEY environment variable")
		return
	}

	body, err := h.air.GetLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	httputil.WriteRawJSON(w, http.StatusOK, body)
}

func (h *AirQualityHandler) writeUpstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrUpstreamUnauthorized) {
		httputil.WriteError(w, http.StatusUnauthorized, "OpenAQ rejected the configured API key")
		return
	}
	log.Printf("[ERROR] Air quality proxy: %v", err)
	httputil.WriteError(w, http.StatusBadGateway, "Air quality data is temporarily unavailable")
}
