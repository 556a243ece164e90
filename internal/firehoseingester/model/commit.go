package model

import (
	"time"
)

// Frame is a single unit of work exactly as received from the feed.  Frames are opaque until a worker parses them.
type Frame []byte

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Message is anything that can be parsed out of a Frame
type Message interface {
	MessageType() string
}

const CommitMessageType = "#commit"

// Commit is a batch of operations against a single repository
type Commit struct {
	Seq    int64
	Repo   string
	Rev    string
	Time   time.Time
	TooBig bool
	Ops    []Operation
	// Blocks is nil when the frame carried no block payload
	Blocks BlockStore
}

func (c *Commit) MessageType() string {
	return CommitMessageType
}

// OtherMessage is a valid frame that is not a commit, e.g. an identity or account event
type OtherMessage struct {
	Type string
	Seq  int64
}

func (o *OtherMessage) MessageType() string {
	return o.Type
}

// Operation is a single mutation inside a commit.  Cid is only set for creates and updates.
type Operation struct {
	Action Action
	Path   string
	Cid    string
}

// BlockStore maps content identifiers to raw record bytes.  It is scoped to a single commit.
type BlockStore map[string][]byte

func (b BlockStore) Get(cid string) ([]byte, bool) {
	raw, ok := b[cid]
	return raw, ok
}
