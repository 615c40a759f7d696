package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RemoteOptions configures the FTP and SFTP backends.
type RemoteOptions struct {
	Addr     string
	User     string
	Password string
	KeyPath  string
	Dir      string
	Timeout  time.Duration
}

func (o *RemoteOptions) withDefaults(port string) {
	if _, _, err := net.SplitHostPort(o.Addr); err != nil {
		o.Addr = net.JoinHostPort(o.Addr, port)
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
}

func (o RemoteOptions) remotePath(key string) string {
	if strings.TrimSpace(o.Dir) == "" {
		return key
	}
	return path.Join(strings.TrimSuffix(o.Dir, "/"), key)
}

// FTP stores blobs on an FTP server, one connection per operation.
type FTP struct {
	opts RemoteOptions
}

// NewFTP returns an FTP backend. The port defaults to 21.
func NewFTP(opts RemoteOptions) (*FTP, error) {
	if opts.Addr == "" || opts.User == "" {
		return nil, eris.New("storage: ftp addr and user are required")
	}
	opts.withDefaults("21")
	return &FTP{opts: opts}, nil
}

func (f *FTP) Name() string { return "ftp" }

func (f *FTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	zap.L().Debug("storage: ftp connecting", zap.String("addr", f.opts.Addr))

	conn, err := ftp.Dial(f.opts.Addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "storage: ftp dial")
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "storage: ftp login")
	}
	return conn, nil
}

func (f *FTP) remote(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return f.opts.remotePath(key), nil
}

func (f *FTP) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := f.remote(key)
	if err != nil {
		return 0, err
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	// MakeDir fails when the directory exists, so walk the path and ignore errors.
	dir := ""
	for _, part := range strings.Split(path.Dir(p), "/") {
		if part == "" || part == "." {
			continue
		}
		dir = path.Join(dir, part)
		if strings.HasPrefix(p, "/") {
			_ = conn.MakeDir("/" + dir)
		} else {
			_ = conn.MakeDir(dir)
		}
	}

	cr := &countingReader{r: r}
	if err := conn.Stor(p, cr); err != nil {
		return cr.n, eris.Wrapf(err, "storage: ftp store %s", p)
	}
	return cr.n, nil
}

// ftpConnReader closes the FTP response and the connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

func (f *FTP) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := f.remote(key)
	if err != nil {
		return nil, err
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(p)
	if err != nil {
		conn.Quit()
		if isFTPNotFound(err) {
			return nil, ErrNotExist
		}
		return nil, eris.Wrapf(err, "storage: ftp retrieve %s", p)
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

func (f *FTP) Exists(ctx context.Context, key string) (bool, error) {
	p, err := f.remote(key)
	if err != nil {
		return false, err
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Quit()

	if _, err := conn.FileSize(p); err != nil {
		if isFTPNotFound(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "storage: ftp size %s", p)
	}
	return true, nil
}

func (f *FTP) Delete(ctx context.Context, key string) error {
	p, err := f.remote(key)
	if err != nil {
		return err
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Delete(p); err != nil {
		if isFTPNotFound(err) {
			return ErrNotExist
		}
		return eris.Wrapf(err, "storage: ftp delete %s", p)
	}
	return nil
}

func isFTPNotFound(err error) bool {
	var te *textproto.Error
	return errors.As(err, &te) && te.Code == ftp.StatusFileUnavailable
}
