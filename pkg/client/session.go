package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultOrgPath = "/api/iam/organizations/default"
	tokenPath      = "/api/iam/oauth2/token"
)

// tokenRequest is the password-grant body the token endpoint expects. It is
// JSON, not form-encoded, so oauth2.Config.PasswordCredentialsToken cannot be
// used for the exchange itself.
type tokenRequest struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Scope     string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// lookupOrganization fetches the service's default organization ID.
func (c *Client) lookupOrganization(ctx context.Context) (string, error) {
	url := c.baseURL + defaultOrgPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build organization request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doAnonymous(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		lerr := newLookupError(status, body)
		c.logger.Error("failed to get the organization id",
			zap.Int("status", status),
			zap.ByteString("body", body),
		)
		return "", lerr
	}

	var org struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &org); err != nil || org.ID == "" {
		lerr := newLookupError(status, body)
		c.logger.Error("organization response has no id", zap.ByteString("body", body))
		return "", lerr
	}
	c.logger.Info("resolved default organization", zap.String("organization_id", org.ID))
	return org.ID, nil
}

// exchangeToken trades credentials for a bearer token scoped to c.orgID.
func (c *Client) exchangeToken(ctx context.Context, username, password string) (*oauth2.Token, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType: "password",
		Username:  username,
		Password:  password,
		Scope:     c.orgID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	url := c.baseURL + tokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doAnonymous(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		aerr := newAuthError(status, body, "")
		c.logger.Error("failed to authorize",
			zap.Int("status", status),
			zap.ByteString("body", body),
		)
		return nil, aerr
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		aerr := newAuthError(status, body, "decode token response: "+err.Error())
		c.logger.Error("failed to authorize", zap.Error(aerr))
		return nil, aerr
	}
	if tr.AccessToken == "" {
		aerr := newAuthError(status, body, "token response has no access_token")
		c.logger.Error("failed to authorize", zap.Error(aerr))
		return nil, aerr
	}

	token := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	switch {
	case tr.ExpiresIn > 0:
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		token.Expiry = jwtExpiry(tr.AccessToken)
	}
	return token, nil
}

// jwtExpiry reads the exp claim of a JWT without verifying it. The client
// cannot verify the signature and only uses the value for logging. Opaque
// tokens yield the zero time.
func jwtExpiry(raw string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// doAnonymous sends a pre-login request and returns the status and body.
// Only network failures are errors.
func (c *Client) doAnonymous(req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.anonHTTP.Do(req)
	if err != nil {
		c.metrics.observe(req.Method, 0, time.Since(start))
		terr := newTransportError(req.Method, req.URL.String(), err)
		c.logger.Error("request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return 0, nil, terr
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, maxLoginBodyBytes)
	c.metrics.observe(req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		terr := newTransportError(req.Method, req.URL.String(), err)
		c.logger.Error("request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return resp.StatusCode, nil, terr
	}
	return resp.StatusCode, body, nil
}
