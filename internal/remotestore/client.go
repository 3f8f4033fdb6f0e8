package remotestore

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/colinmarc/hdfs/v2"

	"github.com/rshuffle/worker/internal/shuffle"
)

// hdfsDelegator is the narrow surface this package needs from an HDFS
// client, mirroring the original source's HdfsDelegator trait so a fake can
// stand in for the real colinmarc/hdfs client in tests.
type hdfsDelegator interface {
	Stat(name string) (os.FileInfo, error)
	Create(name string) (io.WriteCloser, error)
	Append(name string) (io.WriteCloser, error)
	MkdirAll(name string, perm os.FileMode) error
	Remove(name string) error
}

// realDelegator adapts *hdfs.Client to [hdfsDelegator]; colinmarc/hdfs
// returns *hdfs.FileWriter (not io.WriteCloser) from Create/Append, so this
// is a thin method-set shim rather than the client itself.
type realDelegator struct {
	*hdfs.Client
}

func (r realDelegator) Create(name string) (io.WriteCloser, error) {
	return r.Client.Create(name)
}

func (r realDelegator) Append(name string) (io.WriteCloser, error) {
	return r.Client.Append(name)
}

// client wraps one app's HDFS connection and the root path its files are
// rooted under, mirroring the original source's per-app HdfsNativeClient.
type client struct {
	hdfs hdfsDelegator
	root string
}

// newClient parses cfg.RemoteStorageRoot as an hdfs://host:port/path URL and
// dials the namenode. RemoteStorageOpts["user"], if set, overrides the
// connecting user.
func newClient(cfg shuffle.AppConfig) (*client, error) {
	u, err := url.Parse(cfg.RemoteStorageRoot)
	if err != nil {
		return nil, fmt.Errorf("parse remote storage root %q: %w", cfg.RemoteStorageRoot, err)
	}

	opts := hdfs.ClientOptions{Addresses: []string{u.Host}}

	if user, ok := cfg.RemoteStorageOpts["user"]; ok {
		opts.User = user
	}

	c, err := hdfs.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", u.Host, err)
	}

	return &client{hdfs: realDelegator{c}, root: u.Path}, nil
}

func (c *client) full(p string) string {
	if c.root == "" || c.root == "/" {
		return "/" + p
	}

	return c.root + "/" + p
}

// ensureCreated touches path if it does not already exist, so the first
// SpillInsert can always follow up with Append.
func (c *client) ensureCreated(path string) error {
	_, err := c.hdfs.Stat(c.full(path))
	if err == nil {
		return nil
	}

	if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	w, err := c.hdfs.Create(c.full(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return nil
}

func (c *client) append(path string, data []byte) error {
	w, err := c.hdfs.Append(c.full(path))
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	defer func() { _ = w.Close() }()

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}

	return nil
}

func (c *client) mkdirAll(dir string) error {
	return c.hdfs.MkdirAll(c.full(dir), 0o755)
}

// removeAll deletes dir and everything under it. colinmarc/hdfs's Remove is
// already recursive (it mirrors HDFS's own delete-with-recursive-flag
// semantics), so there is no separate RemoveAll on the underlying client.
func (c *client) removeAll(dir string) error {
	err := c.hdfs.Remove(c.full(dir))
	if os.IsNotExist(err) {
		return nil
	}

	return err
}
