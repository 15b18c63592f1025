package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type TokenConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenManager caches a client-credentials access token and refreshes it
// shortly before it expires.
type TokenManager struct {
	client  *http.Client
	cfg     TokenConfig
	now     func() time.Time
	skew    time.Duration
	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenManager(cfg TokenConfig, client *http.Client) *TokenManager {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenManager{
		client: client,
		cfg:    cfg,
		now:    time.Now,
		skew:   30 * time.Second,
	}
}

func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && tm.now().Before(tm.expires.Add(-tm.skew)) {
		return tm.token, nil
	}
	if err := tm.refreshLocked(ctx); err != nil {
		return "", err
	}
	return tm.token, nil
}

// Invalidate drops the cached token, e.g. after the API answered 401.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	tm.token = ""
	tm.mu.Unlock()
}

func (tm *TokenManager) refreshLocked(ctx context.Context) error {
	if strings.TrimSpace(tm.cfg.ClientID) == "" || strings.TrimSpace(tm.cfg.ClientSecret) == "" {
		return fmt.Errorf("gateway client credentials are required")
	}
	if strings.TrimSpace(tm.cfg.TokenURL) == "" {
		return fmt.Errorf("gateway token url is required")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", tm.cfg.ClientID)
	form.Set("client_secret", tm.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway token request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode gateway token response: %w", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return fmt.Errorf("gateway token response missing access_token")
	}
	ttl := parsed.ExpiresIn
	if ttl <= 0 {
		ttl = 300
	}
	tm.token = strings.TrimSpace(parsed.AccessToken)
	tm.expires = tm.now().Add(time.Duration(ttl) * time.Second)
	return nil
}
