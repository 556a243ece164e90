package model

import (
	"fmt"
	"strings"
)

const uriScheme = "at://"

// URI identifies a record: at://<repo>/<collection>/<rkey>
type URI struct {
	Repo       string
	Collection string
	RecordKey  string
}

// NewURI builds the URI of the record at path inside repo.  path is of the form <collection>/<rkey>.
func NewURI(repo, path string) URI {
	collection, rkey, _ := strings.Cut(path, "/")
	return URI{
		Repo:       repo,
		Collection: collection,
		RecordKey:  rkey,
	}
}

func ParseURI(s string) (URI, error) {
	if !strings.HasPrefix(s, uriScheme) {
		return URI{}, fmt.Errorf("uri %q does not start with %s", s, uriScheme)
	}
	repo, path, ok := strings.Cut(strings.TrimPrefix(s, uriScheme), "/")
	if !ok || repo == "" {
		return URI{}, fmt.Errorf("uri %q has no collection", s)
	}
	return NewURI(repo, path), nil
}

func (u URI) String() string {
	var sb strings.Builder
	sb.WriteString(uriScheme)
	sb.WriteString(u.Repo)
	if u.Collection != "" {
		sb.WriteString("/")
		sb.WriteString(u.Collection)
	}
	if u.RecordKey != "" {
		sb.WriteString("/")
		sb.WriteString(u.RecordKey)
	}
	return sb.String()
}
