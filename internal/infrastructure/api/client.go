package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/you/carebook/domain"
)

// Endpoint paths on the platform API
const (
	pathMe        = "/auth/me"
	pathLogin     = "/auth/login"
	pathLogout    = "/auth/logout"
	pathOTPSend   = "/auth/register/otp/send"
	pathOTPVerify = "/auth/register/otp/verify"
	pathOTPResend = "/auth/register/otp/resend"
)

// Client talks to the platform REST API. It implements domain.AuthAPI and
// domain.RegistrationAPI.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client with a tuned transport
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// NewClientWithHTTP creates an API client around an existing http.Client
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

type messageResponse struct {
	Message string `json:"message"`
}

// Me fetches the identity behind token
func (c *Client) Me(ctx context.Context, token string) (domain.RawIdentity, error) {
	var body map[string]any
	if err := c.do(ctx, http.MethodGet, pathMe, token, nil, &body); err != nil {
		return nil, err
	}
	return unwrapUser(body), nil
}

// Login implements domain.AuthAPI
func (c *Client) Login(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	req := map[string]string{"email": email, "password": password}
	var res domain.AuthResult
	if err := c.do(ctx, http.MethodPost, pathLogin, "", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout implements domain.AuthAPI
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, pathLogout, token, struct{}{}, nil)
}

// SendOTP implements domain.RegistrationAPI
func (c *Client) SendOTP(ctx context.Context, email, phone string) (string, error) {
	req := map[string]string{"email": email, "phone": phone}
	var res messageResponse
	if err := c.do(ctx, http.MethodPost, pathOTPSend, "", req, &res); err != nil {
		return "", err
	}
	return res.Message, nil
}

// VerifyOTP implements domain.RegistrationAPI. The whole registration
// payload travels with the code so the account is created in the same call.
func (c *Client) VerifyOTP(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
	req := struct {
		domain.RegistrationPayload
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}{RegistrationPayload: payload, Email: email, OTP: otp}

	var res domain.AuthResult
	if err := c.do(ctx, http.MethodPost, pathOTPVerify, "", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResendOTP implements domain.RegistrationAPI
func (c *Client) ResendOTP(ctx context.Context, email string) (string, error) {
	req := map[string]string{"email": email}
	var res messageResponse
	if err := c.do(ctx, http.MethodPost, pathOTPResend, "", req, &res); err != nil {
		return "", err
	}
	return res.Message, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", domain.ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// unwrapUser accepts {"user": {...}}, {"data": {...}} or a bare identity
func unwrapUser(body map[string]any) domain.RawIdentity {
	for _, key := range []string{"user", "data"} {
		if nested, ok := body[key].(map[string]any); ok {
			return domain.RawIdentity(nested)
		}
	}
	return domain.RawIdentity(body)
}

var (
	_ domain.AuthAPI         = (*Client)(nil)
	_ domain.RegistrationAPI = (*Client)(nil)
)
