package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataHash    = errors.New("invalid init data hash")
	ErrInitDataExpired = errors.New("init data expired")
)

type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ValidateInitData checks the mini app launch payload signed by the bot
// token and returns the Telegram user it carries.
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (TelegramUser, error) {
	parsed, err := url.ParseQuery(initData)
	if err != nil {
		return TelegramUser{}, fmt.Errorf("parse initData: %w", err)
	}
	hash := parsed.Get("hash")
	if hash == "" {
		return TelegramUser{}, ErrInitDataHash
	}
	parsed.Del("hash")

	want, err := hex.DecodeString(hash)
	if err != nil {
		return TelegramUser{}, ErrInitDataHash
	}
	if !hmac.Equal(signInitData(parsed, botToken), want) {
		return TelegramUser{}, ErrInitDataHash
	}

	if maxAge > 0 {
		sec, err := strconv.ParseInt(parsed.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(sec, 0)) > maxAge {
			return TelegramUser{}, ErrInitDataExpired
		}
	}

	raw := parsed.Get("user")
	if raw == "" {
		return TelegramUser{}, errors.New("init data has no user")
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return TelegramUser{}, fmt.Errorf("parse user: %w", err)
	}
	if user.ID == 0 {
		return TelegramUser{}, errors.New("init data has no user id")
	}
	return user, nil
}

func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+values.Get(key))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(parts, "\n")))
	return h.Sum(nil)
}
