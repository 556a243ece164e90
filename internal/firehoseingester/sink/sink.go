package sink

import (
	"time"

	"github.com/google/uuid"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
)

// PostRow is a single created post as stored in the activity table
type PostRow struct {
	Id        uuid.UUID `ch:"id"`
	CreatedAt time.Time `ch:"created_at"`
	AuthorId  string    `ch:"author_id"`
	Text      string    `ch:"text"`
	Uri       string    `ch:"uri"`
	Cid       string    `ch:"cid"`
}

// NewPostRow creates a row with a fresh id
func NewPostRow(createdAt time.Time, authorId, text, uri, cid string) PostRow {
	return PostRow{
		Id:        uuid.New(),
		CreatedAt: createdAt.UTC(),
		AuthorId:  authorId,
		Text:      text,
		Uri:       uri,
		Cid:       cid,
	}
}

// Sink accepts post rows for storage.  Implementations must be safe for concurrent use.
type Sink interface {
	Insert(ctx *firehosecontext.Context, row PostRow) error
}
