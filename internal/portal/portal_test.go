package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

func TestCheckPackageAccepted(t *testing.T) {
	var got checkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, checkPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"project_code":"demo"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	result, err := c.CheckPackage(context.Background(), "pkg.zip", []byte(`{"transfer_id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, "demo", result.ProjectCode)
	assert.Equal(t, "pkg.zip", got.FileName)
	assert.Equal(t, `{"transfer_id":"42"}`, got.Metadata)
}

func TestCheckPackageRejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"detail", http.StatusBadRequest, `{"detail":"Transfer 42 is not authorized"}`, "Transfer 42 is not authorized"},
		{"no detail", http.StatusForbidden, `nope`, "403"},
		{"malformed success", http.StatusOK, `not json`, "malformed response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).CheckPackage(context.Background(), "pkg.zip", nil)
			require.ErrorIs(t, err, kerrors.ErrPortal)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCheckPackageUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 100*time.Millisecond).CheckPackage(context.Background(), "pkg.zip", nil)
	assert.ErrorIs(t, err, kerrors.ErrPortal)
}
