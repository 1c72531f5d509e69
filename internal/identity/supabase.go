package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/config"
)

// Supabase talks to the GoTrue admin API of a Supabase project.
type Supabase struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	verifier   verifier
}

// NewSupabase returns a Supabase provider for cfg.
func NewSupabase(cfg config.IdentityConfig, clk clock.Clock) *Supabase {
	return &Supabase{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceRoleKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		verifier:   verifier{secret: []byte(cfg.JWTSecret), now: clk.Now},
	}
}

type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type supabaseToken struct {
	AccessToken string `json:"access_token"`
}

func (s *Supabase) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	body := map[string]any{"email": email, "password": password, "email_confirm": true}
	var user supabaseUser
	status, err := s.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, &user)
	switch {
	case err != nil:
		return "", err
	case status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return "", ErrIdentityExists
	case status/100 != 2:
		return "", fmt.Errorf("%w: create user returned %d", ErrUnavailable, status)
	}
	return user.ID, nil
}

func (s *Supabase) DeleteIdentity(ctx context.Context, id string) error {
	status, err := s.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	if status/100 != 2 && status != http.StatusNotFound {
		return fmt.Errorf("%w: delete user returned %d", ErrUnavailable, status)
	}
	return nil
}

func (s *Supabase) SignIn(ctx context.Context, email, password string) (string, error) {
	body := map[string]any{"email": email, "password": password}
	var tok supabaseToken
	status, err := s.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", body, &tok)
	switch {
	case err != nil:
		return "", err
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return "", ErrInvalidCredentials
	case status/100 != 2:
		return "", fmt.Errorf("%w: token returned %d", ErrUnavailable, status)
	}
	return tok.AccessToken, nil
}

func (s *Supabase) VerifySession(_ context.Context, token string) (string, error) {
	return s.verifier.verify(token)
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (s *Supabase) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
