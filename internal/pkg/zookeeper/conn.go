package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

// Conn is a thin wrapper around a ZooKeeper session.
type Conn struct {
	conn *zk.Conn
}

// Connect establishes a session with the given ensemble.
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect to zookeeper")
	}
	return &Conn{conn: conn}, nil
}

// EnsurePath creates the given persistent path if it does not exist yet.
func (c *Conn) EnsurePath(path string) error {
	exists, _, err := c.conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check path %s", path)
	}
	if exists {
		return nil
	}
	_, err = c.conn.Create(path, []byte{}, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return errors.Wrapf(err, "create path %s", path)
	}
	return nil
}

func (c *Conn) CreateProtectedEphemeralSequential(path string, data []byte) (string, error) {
	return c.conn.CreateProtectedEphemeralSequential(path, data, zk.WorldACL(zk.PermAll))
}

func (c *Conn) Children(path string) ([]string, error) {
	children, _, err := c.conn.Children(path)
	return children, err
}

func (c *Conn) ExistsW(path string) (bool, <-chan zk.Event, error) {
	exists, _, ch, err := c.conn.ExistsW(path)
	return exists, ch, err
}

func (c *Conn) Delete(path string) error {
	return c.conn.Delete(path, -1)
}

// Close ends the session; all ephemeral nodes created through it disappear.
func (c *Conn) Close() {
	c.conn.Close()
}
