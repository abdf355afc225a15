package deviceauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/shared/events"
)

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// SignIn runs the device authorization grant: request a code, publish the
// prompt, poll until approval. Returns (false, nil) when the user denies
// or lets the code expire, an error only on protocol or transport
// failures.
func (p *Provider) SignIn(ctx context.Context, tenantID string) (bool, error) {
	dc, err := p.beginDeviceFlow(ctx, tenantID)
	if err != nil {
		return false, err
	}

	deadline := p.clock.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)
	p.devicePrompts.Emit(DevicePrompt{
		UserCode:        dc.UserCode,
		VerificationURI: dc.VerificationURI,
		ExpiresAt:       deadline,
	})
	p.logger.Info("device sign-in started",
		zap.String("user_code", dc.UserCode),
		zap.String("verification_uri", dc.VerificationURI))

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-p.clock.After(interval):
		}
		if !p.clock.Now().Before(deadline) {
			p.logger.Info("device sign-in expired")
			return false, nil
		}

		resp, err := p.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"grant_type":  "urn:ietf:params:oauth:grant-type:device_code",
				"device_code": dc.DeviceCode,
				"client_id":   p.cfg.ClientID,
			}).
			Post(p.cfg.TokenURL)
		if err != nil {
			return false, fmt.Errorf("redeem device code: %w", err)
		}

		var tr tokenResponse
		if err := sonic.Unmarshal(resp.Body(), &tr); err != nil {
			return false, fmt.Errorf("decode token response: %w", err)
		}

		switch {
		case resp.IsSuccess():
			p.storeTokens(tenantID, &tr)
			return true, nil
		case tr.Error == "authorization_pending":
			// User has not approved yet, keep waiting.
		case tr.Error == "slow_down":
			interval += 5 * time.Second
		case tr.Error == "expired_token", tr.Error == "access_denied":
			p.logger.Info("device sign-in abandoned", zap.String("reason", tr.Error))
			return false, nil
		default:
			return false, fmt.Errorf("device flow failed: %s: %s", tr.Error, tr.ErrorDesc)
		}
	}
}

func (p *Provider) beginDeviceFlow(ctx context.Context, tenantID string) (*deviceCodeResponse, error) {
	form := map[string]string{
		"client_id": p.cfg.ClientID,
		"scope":     strings.Join(p.cfg.Scopes, " "),
	}
	if tenantID != "" {
		form["tenant"] = tenantID
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(p.cfg.DeviceAuthURL)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("request device code: %s", resp.Status())
	}
	var dc deviceCodeResponse
	if err := sonic.Unmarshal(resp.Body(), &dc); err != nil {
		return nil, fmt.Errorf("decode device code: %w", err)
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, fmt.Errorf("device code response incomplete")
	}
	return &dc, nil
}

// storeTokens publishes a fresh token set and makes its tenant active.
func (p *Provider) storeTokens(requested string, tr *tokenResponse) {
	account, tid := claimsFromIDToken(tr.IDToken)
	tenantID := requested
	if tenantID == "" {
		tenantID = tid
	}
	set := &tokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    p.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Account:      account,
		TenantID:     tenantID,
	}

	p.mu.Lock()
	p.tokens[tenantID] = set
	p.active = tenantID
	p.mu.Unlock()
	p.persist()

	p.logger.Info("signed in",
		zap.String("tenant", tenantID), zap.String("account", account))
	p.sessionChanged.Emit(events.Signal{})
}

// claimsFromIDToken pulls display claims from the unverified id token
// payload. They only label the session; authorization rides the access
// token, which the platform verifies itself.
func claimsFromIDToken(idToken string) (account, tenantID string) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ""
	}
	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		UPN               string `json:"upn"`
		TenantID          string `json:"tid"`
	}
	if err := sonic.Unmarshal(payload, &claims); err != nil {
		return "", ""
	}
	account = claims.PreferredUsername
	if account == "" {
		account = claims.UPN
	}
	return account, claims.TenantID
}
