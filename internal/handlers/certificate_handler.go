package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/certhub/backend/internal/models"
	"github.com/certhub/backend/internal/services"
)

type CertificateHandler struct {
	service   *services.CertificateService
	validator *services.ValidationHelper
}

func NewCertificateHandler(service *services.CertificateService) *CertificateHandler {
	return &CertificateHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR issues a certificate verification QR
// @Summary Generate certificate QR
// @Description Issue a one-time verification token for an application and render it as a QR PNG
// @Tags certificates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CertificateQRRequest true "QR generation request"
// @Success 200 {object} object{token=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /certificates/qr [post]
func (h *CertificateHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	var req models.CertificateQRRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	token, qrImage, err := h.service.GenerateQR(r.Context(), req.ApplicationID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"token":   token,
		"qrImage": qrImage,
	})
}

// Verify resolves a certificate verification token
// @Summary Verify certificate token
// @Description Resolve a scanned verification token to its application; tokens are single use
// @Tags certificates
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} services.VerificationResult
// @Failure 404 {object} services.ErrorResponse
// @Router /certificates/verify/{token} [get]
func (h *CertificateHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		services.SendErrorResponse(w, "token is required", http.StatusBadRequest, nil)
		return
	}

	result, err := h.service.Verify(r.Context(), token)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
