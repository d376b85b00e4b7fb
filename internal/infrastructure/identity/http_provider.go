package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// StatusError is returned when the identity API answers with a non-2xx
// status.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity api %s: status %d", e.Path, e.Status)
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// HTTPProvider talks to the external identity API. Every call goes over
// the wire; nothing is cached.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

var _ ports.IdentityProvider = (*HTTPProvider)(nil)

func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type userBody struct {
	UserID string `json:"userId"`
}

type authResponse struct {
	Result bool `json:"result"`
}

type permissionResponse struct {
	Permission int `json:"permission"`
}

// Authenticate asks GET /auth whether token belongs to userID. A 401 or
// 403 answer is a plain rejection.
func (p *HTTPProvider) Authenticate(ctx context.Context, userID, token string) (bool, error) {
	var resp authResponse
	err := p.do(ctx, "/auth", userBody{UserID: userID}, token, &resp)
	var status *StatusError
	if errors.As(err, &status) && (status.Status == http.StatusUnauthorized || status.Status == http.StatusForbidden) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Result, nil
}

// HasPermission resolves the room's channel and checks the caller's
// permission on the owning project. Non-zero means granted.
func (p *HTTPProvider) HasPermission(ctx context.Context, userID, token, roomID string) (bool, error) {
	channel, err := p.ResolveChannel(ctx, roomID)
	if err != nil {
		return false, err
	}
	project := channel.ProjectID
	if project == "" {
		project = channel.ID
	}

	var resp permissionResponse
	path := "/project/" + url.PathEscape(project) + "/permission"
	if err := p.do(ctx, path, userBody{UserID: userID}, token, &resp); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Status == http.StatusForbidden {
			return false, nil
		}
		return false, err
	}
	return resp.Permission != 0, nil
}

func (p *HTTPProvider) ResolveChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	var channel domain.Channel
	if err := p.do(ctx, "/channel/"+url.PathEscape(channelID), nil, "", &channel); err != nil {
		return nil, err
	}
	if channel.ID == "" {
		channel.ID = channelID
	}
	return &channel, nil
}

// do issues a GET carrying a JSON body, the shape the identity API
// expects, and decodes the JSON answer into out.
func (p *HTTPProvider) do(ctx context.Context, path string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode identity request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-access-token", token)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity api %s: %w", path, err)
	}
	defer resp.Body.Close()

	p.logger.Debugw("identity request", "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Path: path, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode identity response %s: %w", path, err)
	}
	return nil
}
