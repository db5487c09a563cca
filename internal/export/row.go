package export

import (
	"github.com/buger/jsonparser"

	"github.com/jittakal/dumpshard/pkg/record"
)

var rowPaths = [...][]string{
	{"id"},
	{"link_id"},
	{"title"},
	{"selftext"},
	{"body"},
	{"num_comments"},
	{"url"},
	{"permalink"},
	{"author"},
}

const (
	pathID = iota
	pathLinkID
	pathTitle
	pathSelftext
	pathBody
	pathNumComments
	pathURL
	pathPermalink
	pathAuthor
)

// row is one record mapped to export columns. rowID is the record's own id
// and keys deduplication; rows without an id are never deduplicated.
// post.ID is the parent link for comments.
type row struct {
	rowID string
	post  record.Post
}

// mapRow extracts the export columns from a raw record.
func mapRow(rec record.Record, comments bool) row {
	var (
		fields      [len(rowPaths)]string
		numComments int64
	)

	jsonparser.EachKey(rec.Raw, func(idx int, value []byte, vt jsonparser.ValueType, err error) {
		if err != nil {
			return
		}
		switch vt {
		case jsonparser.String:
			if s, err := jsonparser.ParseString(value); err == nil {
				fields[idx] = s
			}
		case jsonparser.Number:
			if idx == pathNumComments {
				if n, err := jsonparser.ParseInt(value); err == nil {
					numComments = n
				} else if f, err := jsonparser.ParseFloat(value); err == nil {
					numComments = int64(f)
				}
				return
			}
			fields[idx] = string(value)
		}
	}, rowPaths[:]...)

	p := record.Post{
		ID:           fields[pathID],
		Title:        fields[pathTitle],
		Text:         fields[pathSelftext],
		CommentCount: numComments,
		URL:          fields[pathURL],
		CreatedUTC:   rec.CreatedUTC,
		Author:       fields[pathAuthor],
		Subreddit:    rec.Subreddit,
	}
	if comments {
		p.ID = fields[pathLinkID]
		p.Text = fields[pathBody]
	}
	if p.URL == "" {
		p.URL = fields[pathPermalink]
	}

	id := fields[pathID]
	if id == "" {
		id = rec.ID
	}
	return row{rowID: id, post: p}
}
