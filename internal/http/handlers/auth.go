package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/auth"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"

	"golang.org/x/crypto/bcrypt"
)

const initDataMaxAge = 24 * time.Hour

type telegramAuthRequest struct {
	InitData string `json:"initData" validate:"required"`
}

// AuthTelegram exchanges mini app initData for a customer token.
func (h *Handler) AuthTelegram(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var req telegramAuthRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := auth.ValidateInitData(req.InitData, h.cfg.TelegramToken, initDataMaxAge, h.now())
	if err != nil {
		status := "invalid_init_data"
		if errors.Is(err, auth.ErrInitDataExpired) {
			status = "expired_init_data"
		}
		logger.Warn("action", "action", "auth_telegram", "status", status)
		writeError(w, http.StatusUnauthorized, "invalid initData")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	customer, err := h.store.UpsertCustomer(ctx, models.Customer{
		TelegramID: user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
	})
	if err != nil {
		logger.Error("action", "action", "auth_telegram", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	token, err := auth.SignCustomerToken(h.cfg.JWTSecret, customer.ID, customer.TelegramID, h.now())
	if err != nil {
		logger.Error("action", "action", "auth_telegram", "status", "token_error", "error", err)
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": token,
		"customer":    customer,
	})
}

type adminAuthRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	TelegramID *int64 `json:"telegramId"`
}

// AuthAdmin checks the configured admin credentials. The token is bound to
// a Telegram id from the allow-list; that id is the actor on every
// decision taken with it.
func (h *Handler) AuthAdmin(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var req adminAuthRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.cfg.AdminLogin == "" || h.cfg.AdminPassHash == "" {
		logger.Warn("action", "action", "auth_admin", "status", "disabled")
		writeError(w, http.StatusUnauthorized, "admin login disabled")
		return
	}
	if strings.TrimSpace(req.Username) != h.cfg.AdminLogin {
		logger.Warn("action", "action", "auth_admin", "status", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPassHash), []byte(req.Password)); err != nil {
		logger.Warn("action", "action", "auth_admin", "status", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	telegramID, ok := h.resolveAdminTelegramID(req.TelegramID)
	if !ok {
		writeError(w, http.StatusBadRequest, "telegramId required")
		return
	}
	if _, allowed := h.cfg.AdminTGIDs[telegramID]; !allowed {
		logger.Warn("action", "action", "auth_admin", "status", "forbidden", "telegram_id", telegramID)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	token, err := auth.SignAdminToken(h.cfg.JWTSecret, telegramID, h.now())
	if err != nil {
		logger.Error("action", "action", "auth_admin", "status", "token_error", "error", err)
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	logger.Info("action", "action", "auth_admin", "status", "ok", "telegram_id", telegramID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": token,
		"telegramId":  telegramID,
	})
}

// resolveAdminTelegramID falls back to the only allow-listed id.
func (h *Handler) resolveAdminTelegramID(requested *int64) (int64, bool) {
	if requested != nil && *requested > 0 {
		return *requested, true
	}
	if len(h.cfg.AdminTGIDs) == 1 {
		for id := range h.cfg.AdminTGIDs {
			return id, true
		}
	}
	return 0, false
}
