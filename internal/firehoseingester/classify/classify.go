package classify

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
)

// CreatedRecord is a newly created record of a monitored collection
type CreatedRecord struct {
	Record model.Record
	Uri    string
	Cid    string
	Author string
}

// DeletedRef is the uri of a deleted record
type DeletedRef struct {
	Uri string
}

// Bucket holds the classified operations of a single collection in commit order
type Bucket struct {
	Created []CreatedRecord
	Deleted []DeletedRef
}

// Diagnostic describes a create operation whose block could not be decoded
type Diagnostic struct {
	Uri        string
	Cid        string
	Collection string
	Reason     error
	Raw        []byte
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("could not decode record %s (cid %s): %s", d.Uri, d.Cid, d.Reason)
}

// Classification is the result of classifying one commit
type Classification struct {
	Buckets     map[string]*Bucket
	Diagnostics []Diagnostic
}

// Created returns the records created in collection.  The result is empty if there were none.
func (c *Classification) Created(collection string) []CreatedRecord {
	if b, ok := c.Buckets[collection]; ok {
		return b.Created
	}
	return nil
}

// Deleted returns the records deleted from collection.  The result is empty if there were none.
func (c *Classification) Deleted(collection string) []DeletedRef {
	if b, ok := c.Buckets[collection]; ok {
		return b.Deleted
	}
	return nil
}

// Err combines all diagnostics into a single error, or returns nil if every block decoded
func (c *Classification) Err() error {
	var result *multierror.Error
	for _, d := range c.Diagnostics {
		result = multierror.Append(result, d)
	}
	return result.ErrorOrNil()
}

func (c *Classification) bucket(collection string) *Bucket {
	b, ok := c.Buckets[collection]
	if !ok {
		b = &Bucket{}
		c.Buckets[collection] = b
	}
	return b
}

// Classify groups the operations of commit by collection.
//   - Updates are ignored.
//   - Creates are kept if they reference a block that decodes into a complete record of a monitored collection.
//   - Deletes are kept for every collection, monitored or not.
//
// Blocks that fail to decode are reported as diagnostics and never abort classification of the rest of the commit.
func Classify(commit *model.Commit) *Classification {
	result := &Classification{
		Buckets: map[string]*Bucket{},
	}

	for _, op := range commit.Ops {
		uri := model.NewURI(commit.Repo, op.Path)

		switch op.Action {
		case model.ActionCreate:
			if op.Cid == "" {
				continue
			}
			raw, ok := commit.Blocks.Get(op.Cid)
			if !ok || len(raw) == 0 {
				continue
			}
			decoded := model.DecodeRecord(raw)
			if !decoded.Ok() {
				reason := decoded.Err
				if reason == nil {
					reason = errors.New("empty record")
				}
				result.Diagnostics = append(result.Diagnostics, Diagnostic{
					Uri:        uri.String(),
					Cid:        op.Cid,
					Collection: uri.Collection,
					Reason:     reason,
					Raw:        raw,
				})
				continue
			}
			if !model.IsMonitored(uri.Collection) || !model.MatchesCollection(decoded.Record, uri.Collection) {
				continue
			}
			b := result.bucket(uri.Collection)
			b.Created = append(b.Created, CreatedRecord{
				Record: decoded.Record,
				Uri:    uri.String(),
				Cid:    op.Cid,
				Author: commit.Repo,
			})
		case model.ActionDelete:
			b := result.bucket(uri.Collection)
			b.Deleted = append(b.Deleted, DeletedRef{Uri: uri.String()})
		default:
			// Updates are not supported yet
			continue
		}
	}
	return result
}
