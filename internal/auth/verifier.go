// Package auth wraps the external authentication service that exchanges a
// device identity token for a verified account identifier. The delivery
// core calls Verify exactly once per connection, before any registry state
// exists; a failure closes the connection with nothing to clean up.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrVerifyFailed covers every authentication failure. Transport errors
// and rejections look the same to the caller: the connection is refused.
var ErrVerifyFailed = errors.New("authentication failed")

const verifyTimeout = 5 * time.Second

// Verifier exchanges an identity token plus device ID for an account ID.
type Verifier interface {
	Verify(ctx context.Context, identityToken, deviceID string) (string, error)
}

type serviceVerifier struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewServiceVerifier returns a Verifier backed by the auth service's
// verify endpoint.
func NewServiceVerifier(endpoint string, logger *zap.Logger) Verifier {
	return &serviceVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: verifyTimeout},
		logger:   logger,
	}
}

type verifyRequest struct {
	IdentityToken string `json:"identityToken"`
	DeviceID      string `json:"deviceId"`
}

type verifyResponse struct {
	AccountID string `json:"accountId"`
}

func (v *serviceVerifier) Verify(ctx context.Context, identityToken, deviceID string) (string, error) {
	if identityToken == "" || deviceID == "" {
		return "", fmt.Errorf("%w: missing token or device ID", ErrVerifyFailed)
	}

	body, _ := json.Marshal(verifyRequest{IdentityToken: identityToken, DeviceID: deviceID})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("auth service unreachable", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Debug("auth service rejected token",
			zap.String("device_id", deviceID),
			zap.Int("status", resp.StatusCode),
		)
		return "", fmt.Errorf("%w: status %d", ErrVerifyFailed, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if out.AccountID == "" {
		return "", fmt.Errorf("%w: empty account ID", ErrVerifyFailed)
	}

	return out.AccountID, nil
}
