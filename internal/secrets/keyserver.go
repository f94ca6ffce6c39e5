package secrets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// DefaultKeyserverTimeout bounds a single keyserver request.
const DefaultKeyserverTimeout = 10 * time.Second

const maxKeySize = 1 << 20

// KeyFetcher retrieves a public certificate by fingerprint.
type KeyFetcher interface {
	Fetch(ctx context.Context, fingerprint string) ([]byte, error)
}

// Keyserver talks to a keyserver over the Verifying Keyserver (VKS) API.
type Keyserver struct {
	URL    string
	client *retryablehttp.Client
}

func NewKeyserver(url string, timeout time.Duration) *Keyserver {
	if timeout <= 0 {
		timeout = DefaultKeyserverTimeout
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Keyserver{
		URL:    strings.TrimRight(url, "/"),
		client: client,
	}
}

// Fetch downloads the armored certificate of fingerprint.
func (k *Keyserver) Fetch(ctx context.Context, fingerprint string) ([]byte, error) {
	fpr, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/vks/v1/by-fingerprint/%s", k.URL, fpr)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building keyserver request: %w", err)
	}
	req.Header.Set("Accept", "application/pgp-keys")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: contacting keyserver: %v", kerrors.ErrKeyResolution, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: key %s not on keyserver", kerrors.ErrKeyResolution, fpr)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: keyserver returned %s", kerrors.ErrKeyResolution, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading keyserver response: %v", kerrors.ErrKeyResolution, err)
	}
	return data, nil
}
