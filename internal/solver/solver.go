// Package solver answers image challenges through an external HTTP solving
// service.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/provider"
)

// Client posts challenges to a solving service.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a solver client with the given request timeout.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTP(url, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP creates a client with a custom http.Client (for testing).
func NewClientWithHTTP(url string, c *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{url: url, httpClient: c, logger: logger.Named("solver")}
}

type solveRequest struct {
	GT        string `json:"gt"`
	Challenge string `json:"challenge"`
}

type solveResponse struct {
	Validate string `json:"validate"`
	Seccode  string `json:"seccode"`
	Error    string `json:"error"`
}

// Solve returns the proof for payload's image challenge.
func (c *Client) Solve(ctx context.Context, payload provider.ChallengePayload) (provider.Proof, error) {
	if payload.GT == "" || payload.Challenge == "" {
		return provider.Proof{}, ErrMissingChallenge
	}

	body, err := json.Marshal(solveRequest{GT: payload.GT, Challenge: payload.Challenge})
	if err != nil {
		return provider.Proof{}, fmt.Errorf("%w: encoding request: %v", ErrSolveRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return provider.Proof{}, fmt.Errorf("%w: creating request: %v", ErrSolveRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Proof{}, fmt.Errorf("%w: %v", ErrSolveRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return provider.Proof{}, fmt.Errorf("%w: HTTP %d", ErrSolveRequest, resp.StatusCode)
	}

	var out solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provider.Proof{}, fmt.Errorf("%w: invalid JSON: %v", ErrSolveResponse, err)
	}
	if out.Error != "" {
		return provider.Proof{}, fmt.Errorf("%w: %s", ErrSolveResponse, out.Error)
	}
	if out.Validate == "" {
		return provider.Proof{}, fmt.Errorf("%w: empty validate", ErrSolveResponse)
	}

	// Image challenges accept validate with the fixed suffix as seccode.
	if out.Seccode == "" {
		out.Seccode = out.Validate + "|jordan"
	}

	c.logger.Debug("challenge solved", zap.Duration("took", time.Since(start)))
	return provider.Proof{
		Challenge: payload.Challenge,
		Validate:  out.Validate,
		Seccode:   out.Seccode,
	}, nil
}
