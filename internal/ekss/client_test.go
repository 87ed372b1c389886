package ekss

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvelope(t *testing.T) {
	envelope := []byte("sealed-envelope-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/secrets/secret-1/envelopes", r.URL.Path)

		var body struct {
			SecretID string `json:"secret_id"`
			ClientPK string `json:"client_pk"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret-1", body.SecretID)
		assert.Equal(t, "requester-pk", body.ClientPK)

		json.NewEncoder(w).Encode(map[string]string{
			"content": base64.StdEncoding.EncodeToString(envelope),
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	got, err := client.GetEnvelope(context.Background(), "secret-1", "requester-pk")
	require.NoError(t, err)
	assert.Equal(t, envelope, got)
}

func TestGetEnvelopeSecretNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such secret", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.GetEnvelope(context.Background(), "secret-1", "requester-pk")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestGetEnvelopeBadResponseCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.GetEnvelope(context.Background(), "secret-1", "requester-pk")
	assert.ErrorIs(t, err, ErrBadResponseCode)
}

func TestGetEnvelopeRequestFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	_, err = client.GetEnvelope(context.Background(), "secret-1", "requester-pk")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestGetEnvelopeInvalidBase64(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "%%% not base64 %%%"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.GetEnvelope(context.Background(), "secret-1", "requester-pk")
	assert.Error(t, err)
}

func TestDeleteSecret(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.DeleteSecret(context.Background(), "secret-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/secrets/secret-1", gotPath)
}

func TestDeleteSecretAlreadyGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such secret", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	// Absence is success: deletion requests are redelivered at-least-once.
	assert.NoError(t, client.DeleteSecret(context.Background(), "secret-1"))
}

func TestDeleteSecretBadResponseCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	err = client.DeleteSecret(context.Background(), "secret-1")
	assert.ErrorIs(t, err, ErrBadResponseCode)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", time.Second)
	assert.Error(t, err)
}
