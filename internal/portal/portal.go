// Package portal validates packages against the data transfer portal before
// they are encrypted or uploaded.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// DefaultTimeout bounds a single portal request.
const DefaultTimeout = 10 * time.Second

const checkPath = "/backend/data-package/check/"

// CheckResult is the portal's answer for an accepted package.
type CheckResult struct {
	ProjectCode string `json:"project_code"`
}

// Checker is implemented by Client. Workflows accept it so tests can stub
// the portal.
type Checker interface {
	CheckPackage(ctx context.Context, fileName string, metadata []byte) (*CheckResult, error)
}

type Client struct {
	URL    string
	client *retryablehttp.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		URL:    strings.TrimRight(url, "/"),
		client: client,
	}
}

type checkRequest struct {
	FileName string `json:"file_name"`
	Metadata string `json:"metadata"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// CheckPackage asks the portal whether a package with the given file name
// and metadata may be transferred.
func (c *Client) CheckPackage(ctx context.Context, fileName string, metadata []byte) (*CheckResult, error) {
	body, err := json.Marshal(checkRequest{FileName: fileName, Metadata: string(metadata)})
	if err != nil {
		return nil, fmt.Errorf("encoding portal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.URL+checkPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building portal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: contacting %s: %v", kerrors.ErrPortal, c.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", kerrors.ErrPortal, err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrPortal, e.Detail)
		}
		return nil, fmt.Errorf("%w: portal returned %s", kerrors.ErrPortal, resp.Status)
	}

	var result CheckResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", kerrors.ErrPortal, err)
	}
	return &result, nil
}
