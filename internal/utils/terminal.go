package utils

import (
	"fmt"
	"os"
	"runtime"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"golang.org/x/term"
)

// ReadPassphrase prompts for a passphrase without echoing input, falling
// back to the controlling terminal when stdin is redirected.
func ReadPassphrase(prompt string) ([]byte, error) {
	if IsTerminal() {
		return readHidden(int(os.Stdin.Fd()), prompt)
	}
	if IsTTYAvailable() {
		return ReadPassphraseFromTTY(prompt)
	}
	return nil, fmt.Errorf("%w: stdin is not a terminal", kerrors.ErrPassphraseRequired)
}

// ReadPassphraseFromTTY prompts on the controlling terminal, for when stdin
// carries other input.
func ReadPassphraseFromTTY(prompt string) ([]byte, error) {
	tty, err := openTTY()
	if err != nil {
		return nil, fmt.Errorf("cannot open %s for passphrase input: %w", ttyDevice(), err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w: %s is not a terminal", kerrors.ErrPassphraseRequired, ttyDevice())
	}
	return readHidden(fd, prompt)
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsTTYAvailable reports whether a controlling terminal can be opened.
func IsTTYAvailable() bool {
	tty, err := openTTY()
	if err != nil {
		return false
	}
	defer tty.Close()

	return term.IsTerminal(int(tty.Fd()))
}

// readHidden writes the prompt to stderr so stdout stays clean for output.
func readHidden(fd int, prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

func openTTY() (*os.File, error) {
	return os.Open(ttyDevice())
}

func ttyDevice() string {
	if runtime.GOOS == "windows" {
		return "CON"
	}
	return "/dev/tty"
}
