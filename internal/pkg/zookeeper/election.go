package zookeeper

import (
	"context"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const electionRoot = "/elections"

// Election implements leader election over ephemeral sequential nodes. Each
// candidate creates one node under the election path; the candidate owning
// the lowest sequence number is the leader. Everyone else watches its
// predecessor, so a leader crash promotes exactly one successor.
type Election struct {
	conn       *Conn
	path       string
	memberNode string
}

// NewElection prepares an election for the named role, creating the
// persistent parent nodes if needed.
func NewElection(conn *Conn, role string) (*Election, error) {
	if err := conn.EnsurePath(electionRoot); err != nil {
		return nil, err
	}
	path := electionRoot + "/" + role
	if err := conn.EnsurePath(path); err != nil {
		return nil, err
	}
	return &Election{conn: conn, path: path}, nil
}

// Campaign blocks until this candidate becomes the leader or ctx is done.
func (e *Election) Campaign(ctx context.Context) error {
	if e.memberNode == "" {
		node, err := e.conn.CreateProtectedEphemeralSequential(e.path+"/member-", []byte{})
		if err != nil {
			return errors.Wrap(err, "create election member node")
		}
		e.memberNode = node
	}

	for {
		children, err := e.conn.Children(e.path)
		if err != nil {
			return errors.Wrap(err, "list election members")
		}
		sort.Strings(children)

		myName := strings.TrimPrefix(e.memberNode, e.path+"/")
		if myName == children[0] {
			return nil
		}

		// Watch the node directly ahead of ours, not the leader, to avoid a
		// thundering herd when the leader resigns.
		prevIndex := -1
		for i, child := range children {
			if child == myName {
				prevIndex = i - 1
				break
			}
		}
		if prevIndex < 0 {
			return errors.New("own member node missing from election children")
		}
		prevPath := e.path + "/" + children[prevIndex]

		exists, eventChan, err := e.conn.ExistsW(prevPath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue
			}
			return errors.Wrap(err, "watch predecessor node")
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resign withdraws this candidate from the election.
func (e *Election) Resign() error {
	if e.memberNode == "" {
		return nil
	}
	err := e.conn.Delete(e.memberNode)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrap(err, "delete election member node")
	}
	e.memberNode = ""
	return nil
}
