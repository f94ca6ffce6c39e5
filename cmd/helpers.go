package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/briandowns/spinner"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/portal"
	"github.com/PolarWolf314/sett/internal/progress"
	"github.com/PolarWolf314/sett/internal/secrets"
	"github.com/PolarWolf314/sett/internal/ui"
	"github.com/PolarWolf314/sett/internal/utils"
	"github.com/PolarWolf314/sett/internal/workflows"
)

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner, a progress reporter that shows a percentage next to
// the message, and a function that should be deferred to clean up.
//
// spinner.FinalMSG values do not need trailing newlines. The cleanup function
// calls ui.EnsureNewline() on the final message before printing it.
func startSpinner(message string) (*spinner.Spinner, progress.Reporter, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	var mu sync.Mutex
	last := ""
	reporter := progress.Func(func(fraction float64) {
		percent := ui.FormatPercent(fraction)
		mu.Lock()
		defer mu.Unlock()
		if percent == last {
			return
		}
		last = percent
		if quiet {
			s.Lock()
			s.Suffix = " " + message + " " + percent
			s.Unlock()
			return
		}
		Logger.Debugf("%s %s", message, percent)
	})

	cleanup := func() {
		if quiet {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if quiet {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, reporter, cleanup
}

// openGateway loads the key store from the configured directory.
func openGateway() (*secrets.PGPGateway, error) {
	dir := config.KeysDirectory()
	Logger.Debugf("Opening key store at %s", dir)
	store, err := secrets.OpenKeyStore(dir)
	if err != nil {
		return nil, err
	}
	return secrets.NewPGPGateway(store, Logger), nil
}

func keyOptions(gw *secrets.PGPGateway) workflows.KeyOptions {
	opts := workflows.KeyOptions{
		Gateway:   gw,
		Authority: config.Keys.AuthorityFingerprint,
		MaxKeyAge: config.Keys.MaxAge.Duration,
		Offline:   offline,
	}
	if ks := keyserver(); ks != nil {
		opts.Keyserver = ks
	}
	return opts
}

func keyserver() *secrets.Keyserver {
	if offline || !config.Keys.RefreshKeys || config.Keys.KeyserverURL == "" {
		return nil
	}
	return secrets.NewKeyserver(config.Keys.KeyserverURL, config.Keys.Timeout.Duration)
}

func portalClient() portal.Checker {
	if offline || config.Portal.URL == "" {
		return nil
	}
	return portal.NewClient(config.Portal.URL, config.Portal.Timeout.Duration)
}

// passphrase reads a private key passphrase at most once and keeps it in
// locked memory until destroy is called.
type passphrase struct {
	prompt string
	stdin  bool
	spin   *spinner.Spinner
	buf    *memguard.LockedBuffer
}

func (p *passphrase) get() ([]byte, error) {
	if p.buf != nil {
		return p.buf.Bytes(), nil
	}

	var (
		raw []byte
		err error
	)
	switch {
	case p.stdin:
		raw, err = utils.ReadPassphraseFromStdin()
	case !utils.IsTerminal() && !utils.IsTTYAvailable():
		return nil, fmt.Errorf("%w: no terminal to prompt on, use %s",
			kerrors.ErrPassphraseRequired, ui.Flag.Sprint("--passphrase-stdin"))
	default:
		if p.spin != nil && p.spin.Active() {
			p.spin.Stop()
			defer p.spin.Start()
		}
		raw, err = utils.ReadPassphrase(p.prompt)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	p.buf = memguard.NewBufferFromBytes(raw)
	return p.buf.Bytes(), nil
}

func (p *passphrase) destroy() {
	if p.buf != nil {
		p.buf.Destroy()
		p.buf = nil
	}
}

func (p *passphrase) provider() workflows.PassphraseFunc {
	return p.get
}
