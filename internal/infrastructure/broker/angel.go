// Package broker holds the BrokerGateway implementations.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

const (
	DefaultAngelBaseURL = "https://apiconnect.angelbroking.com"
	angelLoginPath      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	maxResponseBytes    = 1 << 20
)

// AngelConfig carries the client metadata SmartAPI expects on every call.
type AngelConfig struct {
	BaseURL        string
	ClientLocalIP  string
	ClientPublicIP string
	MACAddress     string
}

// AngelGateway authenticates against Angel One SmartAPI.
type AngelGateway struct {
	cfg    AngelConfig
	client *http.Client
}

var _ ports.BrokerGateway = (*AngelGateway)(nil)

// NewAngelGateway returns a gateway using client, or http.DefaultClient when nil.
// Deadlines come from the caller's context.
func NewAngelGateway(cfg AngelConfig, client *http.Client) *AngelGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAngelBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &AngelGateway{cfg: cfg, client: client}
}

type angelLoginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp"`
}

type angelLoginResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      *struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Authenticate exchanges client code, PIN and TOTP for a session.
func (g *AngelGateway) Authenticate(ctx context.Context, creds ports.BrokerCredentials) (*ports.BrokerTokens, error) {
	body, err := json.Marshal(angelLoginRequest{
		ClientCode: creds.ClientID,
		Password:   creds.PIN,
		TOTP:       creds.TOTP,
	})
	if err != nil {
		return nil, fmt.Errorf("angel: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+angelLoginPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("angel: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", g.cfg.ClientLocalIP)
	req.Header.Set("X-ClientPublicIP", g.cfg.ClientPublicIP)
	req.Header.Set("X-MACAddress", g.cfg.MACAddress)
	req.Header.Set("X-PrivateKey", creds.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: angel returned %d", domain.ErrBrokerUpstream, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	var out angelLoginResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, rejection(resp.StatusCode, out, decodeErr)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: angel returned malformed body (status %d)", domain.ErrBrokerUpstream, resp.StatusCode)
	}

	if !out.Status || out.Data == nil {
		return nil, &domain.BrokerAuthError{Code: out.ErrorCode, Details: out.Message}
	}
	if out.Data.JWTToken == "" || out.Data.FeedToken == "" {
		return nil, fmt.Errorf("%w: angel session incomplete", domain.ErrBrokerUpstream)
	}

	return &ports.BrokerTokens{
		AccessToken: out.Data.JWTToken,
		FeedToken:   out.Data.FeedToken,
	}, nil
}

// rejection builds the auth error for a 4xx reply, whose body may not be JSON.
func rejection(status int, out angelLoginResponse, decodeErr error) error {
	if decodeErr != nil || out.ErrorCode == "" {
		out.ErrorCode = fmt.Sprintf("HTTP%d", status)
	}
	if decodeErr != nil || out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return &domain.BrokerAuthError{Code: out.ErrorCode, Details: out.Message}
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrBrokerTimeout
	}
	return fmt.Errorf("%w: %v", domain.ErrBrokerUpstream, err)
}
