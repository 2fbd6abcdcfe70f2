// Package client is a Go client for the settlement service.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/accordsai/transferlane/pkg/authn"
	"github.com/accordsai/transferlane/pkg/capability"
	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/signature"
	"github.com/ethereum/go-ethereum/common"
)

const APIVersion = "v1"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Error is a non-2xx answer from the service.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transferlane: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// CodeOf returns the settlement error code carried by err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

type AuthStrategy interface {
	Apply(req *http.Request, body []byte) error
}

// CallerAuth signs every request with Key so the service sees the key's
// address as the caller.
type CallerAuth struct {
	Key *ecdsa.PrivateKey
	Now func() time.Time
}

func (a CallerAuth) Apply(req *http.Request, body []byte) error {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	h, err := authn.Sign(a.Key, req.Method, req.URL.Path, body, now)
	if err != nil {
		return err
	}
	for k, vs := range h {
		req.Header[k] = vs
	}
	return nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthStrategy
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func New(baseURL string, auth AuthStrategy, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		auth:       auth,
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

type Receipt struct {
	RequestID string        `json:"request_id"`
	Claim     domain.Claim  `json:"claim"`
	Status    domain.Status `json:"status"`
	From      string        `json:"from"`
	To        string        `json:"to"`
}

type ClaimStatus struct {
	Claim     domain.Claim  `json:"claim"`
	Status    domain.Status `json:"status"`
	UpdatedAt string        `json:"updated_at,omitempty"`
}

type InstanceConfig struct {
	Instance           string   `json:"instance"`
	Token              string   `json:"token"`
	TokenTransferProxy string   `json:"token_transfer_proxy"`
	AssetTransferProxy string   `json:"asset_transfer_proxy"`
	Interfaces         []string `json:"interfaces"`
}

type performBody struct {
	Addresses              []string `json:"addresses"`
	Uints                  []string `json:"uints"`
	Signature              string   `json:"signature"`
	ThrowIfNotTransferable bool     `json:"throw_if_not_transferable"`
}

// Perform asks the service to settle the order as the authenticated
// receiver. It is never retried; a lost answer is resolved with Status.
func (c *Client) Perform(ctx context.Context, o domain.Order, sig signature.VRS, strict bool) (*Receipt, error) {
	enc := domain.EncodeWire(o.Encode())
	var out Receipt
	err := c.do(ctx, http.MethodPost, "/settlement/v1/transfers/perform", performBody{
		Addresses:              enc.Addresses,
		Uints:                  enc.Uints,
		Signature:              sig.Hex(),
		ThrowIfNotTransferable: strict,
	}, false, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, o domain.Order) (*Receipt, error) {
	var out Receipt
	if err := c.do(ctx, http.MethodPost, "/settlement/v1/transfers/cancel", domain.EncodeWire(o.Encode()), false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Claim(ctx context.Context, addresses []common.Address, uints []*big.Int) (domain.Claim, error) {
	var out struct {
		Claim domain.Claim `json:"claim"`
	}
	if err := c.do(ctx, http.MethodPost, "/settlement/v1/claims", domain.EncodeWire(addresses, uints), true, &out); err != nil {
		return domain.Claim{}, err
	}
	return out.Claim, nil
}

func (c *Client) Status(ctx context.Context, claim domain.Claim) (*ClaimStatus, error) {
	var out ClaimStatus
	if err := c.do(ctx, http.MethodGet, "/settlement/v1/claims/"+claim.Hex(), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifySignature(ctx context.Context, signer common.Address, claim domain.Claim, sig signature.VRS) (bool, error) {
	body := map[string]string{"signer": signer.Hex(), "claim": claim.Hex(), "signature": sig.Hex()}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(ctx, http.MethodPost, "/settlement/v1/signatures/verify", body, true, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *Client) Config(ctx context.Context) (*InstanceConfig, error) {
	var out InstanceConfig
	if err := c.do(ctx, http.MethodGet, "/settlement/v1/config", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SupportsInterface(ctx context.Context, id capability.InterfaceID) (bool, error) {
	var out struct {
		Supported bool `json:"supported"`
	}
	if err := c.do(ctx, http.MethodGet, "/settlement/v1/capabilities/"+id.Hex(), nil, true, &out); err != nil {
		return false, err
	}
	return out.Supported, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, retryable bool, dst any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "transferlane-go-client (api:"+APIVersion+")")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.auth != nil {
			if err := c.auth.Apply(req, bodyBytes); err != nil {
				return err
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dst == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, dst)
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return parseError(resp.StatusCode, respBody)
	}
	return errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	limit := cfg.BaseDelay << (attempt - 1)
	if limit <= 0 || limit > cfg.MaxDelay {
		limit = cfg.MaxDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		time.Sleep(limit)
		return
	}
	time.Sleep(time.Duration(n.Int64()))
}

func parseError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var env struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		out.Message = strings.TrimSpace(string(body))
	} else {
		out.RequestID = env.RequestID
		out.Code = env.Error.Code
		out.Message = env.Error.Message
		out.Details = env.Error.Details
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
