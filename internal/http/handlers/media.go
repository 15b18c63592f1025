package handlers

import (
	"net/http"
	"strings"

	authmw "github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
)

const maxEvidenceBytes = 5 * 1024 * 1024

var evidenceContentTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
	"application/pdf": {},
}

type presignRequest struct {
	Scope       string `json:"scope" validate:"required,oneof=receipts id-documents gnpl-payments"`
	FileName    string `json:"fileName" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required"`
	SizeBytes   int64  `json:"sizeBytes" validate:"gt=0"`
}

// PresignMedia hands out a PUT URL for payment evidence or an identity
// document. The returned key is what the booking endpoints accept.
func (h *Handler) PresignMedia(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req presignRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SizeBytes > maxEvidenceBytes {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if _, ok := evidenceContentTypes[contentType]; !ok {
		writeError(w, http.StatusBadRequest, "invalid content type")
		return
	}
	if h.media == nil {
		writeError(w, http.StatusInternalServerError, "media not configured")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	uploadURL, key, err := h.media.PresignUpload(ctx, req.Scope, customerID, req.FileName, contentType)
	if err != nil {
		logger.Error("action", "action", "presign_upload", "status", "failed", "scope", req.Scope, "error", err)
		writeError(w, http.StatusInternalServerError, "presign error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uploadUrl": uploadURL,
		"key":       key,
		"scope":     req.Scope,
	})
}
