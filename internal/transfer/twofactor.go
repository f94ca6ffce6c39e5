package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// DefaultTwoFactorTimeout bounds how long a login waits for the second
// factor.
const DefaultTwoFactorTimeout = 120 * time.Second

// TwoFactorCallback asks the user for a one-time code.
type TwoFactorCallback func(ctx context.Context) (string, error)

type answer struct {
	code string
	err  error
}

// TwoFactor blocks until cb answers or timeout elapses. The callback's
// context is cancelled when the wait ends.
func TwoFactor(ctx context.Context, cb TwoFactorCallback, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTwoFactorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan answer, 1)
	go func() {
		code, err := cb(ctx)
		done <- answer{code: code, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			if errors.Is(a.err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: second factor after %s", kerrors.ErrSuspensionTimeout, timeout)
			}
			return "", fmt.Errorf("%w: second factor: %v", kerrors.ErrAuthentication, a.err)
		}
		code := strings.TrimSpace(a.code)
		if code == "" {
			return "", fmt.Errorf("%w: empty second factor", kerrors.ErrAuthentication)
		}
		return code, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: second factor after %s", kerrors.ErrSuspensionTimeout, timeout)
		}
		return "", ctx.Err()
	}
}
