package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/ssh"
)

// SFTP stores blobs on an SSH server, one session per operation.
type SFTP struct {
	opts RemoteOptions
}

// NewSFTP returns an SFTP backend. The port defaults to 22 and either a
// password or a private key is required.
func NewSFTP(opts RemoteOptions) (*SFTP, error) {
	if opts.Addr == "" || opts.User == "" {
		return nil, eris.New("storage: sftp addr and user are required")
	}
	if opts.Password == "" && opts.KeyPath == "" {
		return nil, eris.New("storage: sftp requires password or key")
	}
	opts.withDefaults("22")
	return &SFTP{opts: opts}, nil
}

func (s *SFTP) Name() string { return "sftp" }

func (s *SFTP) newClient() (*sftp.Client, error) {
	var auths []ssh.AuthMethod
	if s.opts.KeyPath != "" {
		key, err := os.ReadFile(s.opts.KeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "storage: read sftp key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, eris.Wrap(err, "storage: parse sftp key")
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if s.opts.Password != "" {
		auths = append(auths, ssh.Password(s.opts.Password))
	}
	cfg := ssh.ClientConfig{
		User:            s.opts.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // TODO: accept a known_hosts path in storage.sftp config
		Timeout:         s.opts.Timeout,
	}

	conn, err := ssh.Dial("tcp", s.opts.Addr, &cfg)
	if err != nil {
		return nil, eris.Wrap(err, "storage: ssh dial")
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "storage: sftp session")
	}
	return client, nil
}

func (s *SFTP) remote(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.opts.remotePath(key), nil
}

func (s *SFTP) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	p, err := s.remote(key)
	if err != nil {
		return 0, err
	}
	client, err := s.newClient()
	if err != nil {
		return 0, err
	}
	defer client.Close()

	if err := client.MkdirAll(path.Dir(p)); err != nil {
		return 0, eris.Wrapf(err, "storage: sftp mkdir %s", path.Dir(p))
	}
	f, err := client.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return 0, eris.Wrapf(err, "storage: sftp create %s", p)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, eris.Wrapf(err, "storage: sftp write %s", p)
}

// sftpFile closes the remote file and its session together.
type sftpFile struct {
	*sftp.File
	client *sftp.Client
}

func (f *sftpFile) Close() error {
	err := f.File.Close()
	f.client.Close()
	return err
}

func (s *SFTP) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.remote(key)
	if err != nil {
		return nil, err
	}
	client, err := s.newClient()
	if err != nil {
		return nil, err
	}
	f, err := client.Open(p)
	if err != nil {
		client.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, eris.Wrapf(err, "storage: sftp open %s", p)
	}
	return &sftpFile{File: f, client: client}, nil
}

func (s *SFTP) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.remote(key)
	if err != nil {
		return false, err
	}
	client, err := s.newClient()
	if err != nil {
		return false, err
	}
	defer client.Close()

	info, err := client.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "storage: sftp stat %s", p)
	}
	return !info.IsDir(), nil
}

func (s *SFTP) Delete(_ context.Context, key string) error {
	p, err := s.remote(key)
	if err != nil {
		return err
	}
	client, err := s.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	err = client.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return eris.Wrapf(err, "storage: sftp delete %s", p)
}
