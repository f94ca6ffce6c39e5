package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/secrets"
)

// SFTPConfig describes how to reach and authenticate to an SFTP server.
type SFTPConfig struct {
	Host     string
	Port     int
	Username string

	// PrivateKeyPath is an SSH private key; Passphrase unlocks it.
	PrivateKeyPath string
	Passphrase     []byte

	// Password is offered when set.
	Password string

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath        string
	InsecureIgnoreHostKey bool

	// TwoFactor answers keyboard-interactive challenges.
	TwoFactor        TwoFactorCallback
	TwoFactorTimeout time.Duration

	DialTimeout time.Duration
}

// SFTPTransport uploads over an SFTP session.
type SFTPTransport struct {
	client *sftp.Client
	conn   *ssh.Client
}

// NewSFTPTransportFromClient wraps an established SFTP client. Closing the
// transport closes the client.
func NewSFTPTransportFromClient(client *sftp.Client) *SFTPTransport {
	return &SFTPTransport{client: client}
}

// DialSFTP connects and authenticates to the server in cfg.
func DialSFTP(ctx context.Context, cfg SFTPConfig) (*SFTPTransport, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, fmt.Errorf("%w: SFTP host and username are required", kerrors.ErrValidation)
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	auth, err := authMethods(ctx, cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &kerrors.TransferError{Op: "connect", Path: addr, Err: err}
	}

	c, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: SSH login to %s: %v", kerrors.ErrAuthentication, addr, err)
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, &kerrors.TransferError{Op: "start sftp", Path: addr, Err: err}
	}

	return &SFTPTransport{client: client, conn: conn}, nil
}

func hostKeyCallback(cfg SFTPConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly requested by configuration
	}

	path := cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot locate known_hosts: %v", kerrors.ErrValidation, err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading known hosts %s: %v", kerrors.ErrValidation, path, err)
	}
	return callback, nil
}

func authMethods(ctx context.Context, cfg SFTPConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.PrivateKeyPath != "" {
		signer, err := secrets.LoadSSHKey(cfg.PrivateKeyPath, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if cfg.TwoFactor != nil {
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answer, err := TwoFactor(ctx, cfg.TwoFactor, cfg.TwoFactorTimeout)
					if err != nil {
						return nil, err
					}
					answers[i] = answer
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no SSH authentication method configured", kerrors.ErrValidation)
	}
	return methods, nil
}

func (s *SFTPTransport) MkdirAll(p string) error {
	return s.client.MkdirAll(p)
}

func (s *SFTPTransport) Create(p string) (io.WriteCloser, error) {
	return s.client.Create(p)
}

func (s *SFTPTransport) Rename(oldpath, newpath string) error {
	return s.client.Rename(oldpath, newpath)
}

func (s *SFTPTransport) Size(p string) (int64, error) {
	info, err := s.client.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *SFTPTransport) Close() error {
	err := s.client.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
