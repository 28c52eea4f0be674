package provider

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

	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/guard"
)

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPGateway talks to a provider's JSON REST API.
type HTTPGateway struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway builds a REST provider adapter.
func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse provider base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	return &HTTPGateway{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type transferPayload struct {
	WalletID        string         `json:"wallet_id"`
	Recipient       string         `json:"recipient"`
	Amount          string         `json:"amount"`
	Currency        string         `json:"currency"`
	ClientReference string         `json:"client_reference"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type simulationPayload struct {
	WouldSucceed bool   `json:"would_succeed"`
	EstimatedFee string `json:"estimated_fee"`
	Reason       string `json:"reason"`
}

type transferResponse struct {
	TransferID      string `json:"transfer_id"`
	ClientReference string `json:"client_reference"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	TxHash          string `json:"tx_hash"`
	Reason          string `json:"reason"`
}

// Name implements Gateway.
func (g *HTTPGateway) Name() string { return g.name }

// Simulate implements Gateway.
func (g *HTTPGateway) Simulate(ctx context.Context, req Request) (Simulation, error) {
	var out simulationPayload
	if err := g.do(ctx, http.MethodPost, "/v1/simulations", "", toPayload(req), &out); err != nil {
		return Simulation{}, err
	}
	sim := Simulation{WouldSucceed: out.WouldSucceed, Reason: out.Reason, EstimatedFee: decimal.Zero}
	if out.EstimatedFee != "" {
		fee, err := decimal.NewFromString(out.EstimatedFee)
		if err != nil {
			return Simulation{}, fmt.Errorf("parse estimated fee: %w", err)
		}
		sim.EstimatedFee = fee
	}
	return sim, nil
}

// Execute implements Gateway. The client reference doubles as the
// provider-side idempotency key.
func (g *HTTPGateway) Execute(ctx context.Context, req Request) (Transfer, error) {
	var out transferResponse
	if err := g.do(ctx, http.MethodPost, "/v1/transfers", req.ClientReference, toPayload(req), &out); err != nil {
		return Transfer{}, err
	}
	return out.toTransfer()
}

// Lookup implements Gateway.
func (g *HTTPGateway) Lookup(ctx context.Context, clientReference string) (Transfer, error) {
	var out transferResponse
	path := "/v1/transfers/by-reference/" + url.PathEscape(clientReference)
	if err := g.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return Transfer{}, err
	}
	return out.toTransfer()
}

// RegisterPolicies implements PolicyRegistrar.
func (g *HTTPGateway) RegisterPolicies(ctx context.Context, walletID string, policies []guard.Policy) error {
	body := map[string]any{"guards": policies}
	return g.do(ctx, http.MethodPut, "/v1/wallets/"+url.PathEscape(walletID)+"/guards", "", body, nil)
}

func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return ErrTransferNotFound
	case resp.StatusCode >= 400:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Error)
		}
		return fmt.Errorf("%w: %s", ErrRejected, apiErr.Error)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toPayload(req Request) transferPayload {
	return transferPayload{
		WalletID:        req.WalletID,
		Recipient:       req.Recipient,
		Amount:          req.Amount.String(),
		Currency:        req.Currency,
		ClientReference: req.ClientReference,
		Metadata:        req.Metadata,
	}
}

func (r transferResponse) toTransfer() (Transfer, error) {
	if r.TransferID == "" {
		return Transfer{}, errors.New("provider response is missing transfer_id")
	}
	amount := decimal.Zero
	if r.Amount != "" {
		parsed, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return Transfer{}, fmt.Errorf("parse transfer amount: %w", err)
		}
		amount = parsed
	}
	return Transfer{
		ID:              r.TransferID,
		ClientReference: r.ClientReference,
		Status:          r.Status,
		Amount:          amount,
		TxHash:          r.TxHash,
		Reason:          r.Reason,
	}, nil
}
