package model

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionFollow = "app.bsky.graph.follow"
)

// MonitoredCollections are the record collections the classifier collects creations for
var MonitoredCollections = map[string]bool{
	CollectionPost:   true,
	CollectionLike:   true,
	CollectionFollow: true,
}

func IsMonitored(collection string) bool {
	return MonitoredCollections[collection]
}

// Record is a decoded record body
type Record interface {
	// RecordType is the value of the record's $type field
	RecordType() string
	// Valid reports whether all fields required for the record's type are present
	Valid() bool
}

type StrongRef struct {
	Uri string `json:"uri"`
	Cid string `json:"cid"`
}

type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

type Post struct {
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`

	// hasText records whether the decoded body carried a text key; an empty string is still a valid post
	hasText bool
}

func (p *Post) UnmarshalJSON(data []byte) error {
	type post Post
	var body struct {
		post
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	*p = Post(body.post)
	if body.Text != nil {
		p.Text = *body.Text
		p.hasText = true
	}
	return nil
}

func (p *Post) RecordType() string { return CollectionPost }

func (p *Post) Valid() bool { return p.hasText && p.CreatedAt != "" }

type Like struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (l *Like) RecordType() string { return CollectionLike }

func (l *Like) Valid() bool { return l.Subject.Uri != "" && l.CreatedAt != "" }

type Follow struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func (f *Follow) RecordType() string { return CollectionFollow }

func (f *Follow) Valid() bool { return f.Subject != "" && f.CreatedAt != "" }

// UnknownRecord is a well formed record of a type we have no model for
type UnknownRecord struct {
	Type string
	Raw  json.RawMessage
}

func (u *UnknownRecord) RecordType() string { return u.Type }

func (u *UnknownRecord) Valid() bool { return true }

// DecodeResult is the outcome of decoding a single block: either Record is set or Err explains why it could not be.
type DecodeResult struct {
	Record Record
	Err    error
}

func (r DecodeResult) Ok() bool {
	return r.Err == nil && r.Record != nil
}

// DecodeRecord turns raw block bytes into a typed record
func DecodeRecord(raw []byte) DecodeResult {
	var header struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return DecodeResult{Err: errors.WithMessage(err, "block is not a json object")}
	}
	if header.Type == "" {
		return DecodeResult{Err: errors.New("record has no $type")}
	}

	var record Record
	switch header.Type {
	case CollectionPost:
		record = &Post{}
	case CollectionLike:
		record = &Like{}
	case CollectionFollow:
		record = &Follow{}
	default:
		return DecodeResult{Record: &UnknownRecord{Type: header.Type, Raw: raw}}
	}
	if err := json.Unmarshal(raw, record); err != nil {
		return DecodeResult{Err: errors.WithMessage(err, fmt.Sprintf("could not decode %s", header.Type))}
	}
	return DecodeResult{Record: record}
}

// MatchesCollection reports whether record is a complete record of the given collection
func MatchesCollection(record Record, collection string) bool {
	return record != nil && record.RecordType() == collection && record.Valid()
}
