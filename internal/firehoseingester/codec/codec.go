package codec

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
)

type wireFrame struct {
	Type   string                     `json:"t"`
	Seq    int64                      `json:"seq"`
	Repo   string                     `json:"repo"`
	Rev    string                     `json:"rev"`
	Time   string                     `json:"time"`
	TooBig bool                       `json:"tooBig"`
	Ops    []wireOperation            `json:"ops"`
	Blocks map[string]json.RawMessage `json:"blocks"`
}

type wireOperation struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Cid    string `json:"cid,omitempty"`
}

// ParseFrame decodes a raw feed frame.  Commit frames are returned as *model.Commit and every other well-formed
// frame as *model.OtherMessage.
func ParseFrame(frame model.Frame) (model.Message, error) {
	var wf wireFrame
	if err := json.Unmarshal(frame, &wf); err != nil {
		return nil, errors.WithMessage(err, "malformed frame")
	}
	if wf.Type == "" {
		return nil, errors.New("frame has no message type")
	}
	if wf.Type != model.CommitMessageType {
		return &model.OtherMessage{Type: wf.Type, Seq: wf.Seq}, nil
	}

	commit := &model.Commit{
		Seq:    wf.Seq,
		Repo:   wf.Repo,
		Rev:    wf.Rev,
		TooBig: wf.TooBig,
		Ops:    make([]model.Operation, 0, len(wf.Ops)),
	}
	if wf.Time != "" {
		// A commit with an unparseable time is still a commit
		if t, err := time.Parse(time.RFC3339Nano, wf.Time); err == nil {
			commit.Time = t
		}
	}
	for _, op := range wf.Ops {
		commit.Ops = append(commit.Ops, model.Operation{
			Action: model.Action(op.Action),
			Path:   op.Path,
			Cid:    op.Cid,
		})
	}
	if len(wf.Blocks) > 0 {
		commit.Blocks = make(model.BlockStore, len(wf.Blocks))
		for cid, raw := range wf.Blocks {
			commit.Blocks[cid] = raw
		}
	}
	return commit, nil
}

// EncodeCommit is the inverse of ParseFrame for commits.  It is used by tools and tests that need to produce frames.
func EncodeCommit(commit *model.Commit) (model.Frame, error) {
	wf := wireFrame{
		Type:   model.CommitMessageType,
		Seq:    commit.Seq,
		Repo:   commit.Repo,
		Rev:    commit.Rev,
		TooBig: commit.TooBig,
		Ops:    make([]wireOperation, 0, len(commit.Ops)),
	}
	if !commit.Time.IsZero() {
		wf.Time = commit.Time.Format(time.RFC3339Nano)
	}
	for _, op := range commit.Ops {
		wf.Ops = append(wf.Ops, wireOperation{Action: string(op.Action), Path: op.Path, Cid: op.Cid})
	}
	if len(commit.Blocks) > 0 {
		wf.Blocks = make(map[string]json.RawMessage, len(commit.Blocks))
		for cid, raw := range commit.Blocks {
			if !json.Valid(raw) {
				return nil, errors.Errorf("block %s is not valid json", cid)
			}
			wf.Blocks[cid] = raw
		}
	}
	b, err := json.Marshal(wf)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}
