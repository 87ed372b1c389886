// Package ekss calls the external encryption-key-service to fetch the
// per-requester decryption envelope for a staged object. Failures here never
// touch registry state; the resolver only asks for an envelope after the
// staging decision is made.
package ekss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrSecretNotFound means the key service knows no secret for the object.
	ErrSecretNotFound = errors.New("file secret not found")
	// ErrBadResponseCode means the key service answered with an unexpected
	// status code.
	ErrBadResponseCode = errors.New("unexpected response code from key service")
	// ErrRequestFailed means the key service could not be reached at all.
	ErrRequestFailed = errors.New("request to key service failed")
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("key service base URL must be provided")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid key service base URL %q: %w", baseURL, err)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type envelopeRequest struct {
	SecretID string `json:"secret_id"`
	ClientPK string `json:"client_pk"`
}

type envelopeResponse struct {
	Content string `json:"content"`
}

// GetEnvelope fetches the decryption envelope for the given secret,
// personalized for the receiver's public key. Returns the raw envelope bytes.
func (c *Client) GetEnvelope(ctx context.Context, secretID, receiverPublicKey string) ([]byte, error) {
	body, err := json.Marshal(envelopeRequest{SecretID: secretID, ClientPK: receiverPublicKey})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope request: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "secrets", secretID, "envelopes")
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decoding
	case http.StatusNotFound:
		return nil, fmt.Errorf("secret %s: %w", secretID, ErrSecretNotFound)
	default:
		return nil, fmt.Errorf("%w: %d from %s", ErrBadResponseCode, resp.StatusCode, endpoint)
	}

	var payload envelopeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode envelope response: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return nil, fmt.Errorf("envelope content is not valid base64: %w", err)
	}
	return content, nil
}

// DeleteSecret removes the file secret from the key service. Deleting an
// already absent secret is a no-op, so deletion requests stay idempotent
// end to end.
func (c *Client) DeleteSecret(ctx context.Context, secretID string) error {
	endpoint, err := url.JoinPath(c.baseURL, "secrets", secretID)
	if err != nil {
		return fmt.Errorf("failed to build secret URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build secret deletion request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: %d from %s", ErrBadResponseCode, resp.StatusCode, endpoint)
	}
}
