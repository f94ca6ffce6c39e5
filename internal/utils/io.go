package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadPassphraseFromStdin reads the first line of piped stdin.
// Returns an error if stdin is a terminal or empty.
func ReadPassphraseFromStdin() ([]byte, error) {
	return readFirstLine(os.Stdin)
}

func readFirstLine(f *os.File) ([]byte, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat stdin: %w", err)
	}

	// ModeCharDevice means stdin is connected to a terminal.
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return nil, fmt.Errorf("no data provided on stdin (hint: pipe your passphrase to this command)")
	}

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read from stdin: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("stdin is empty")
	}

	return []byte(line), nil
}
