// Package dataset loads the researcher-supplied post tables.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
)

// Column names expected in the input CSVs.
const (
	ColPostID        = "post_id"
	ColUserName      = "user_name"
	ColFavorites     = "favorites"
	ColRetweets      = "retweets"
	ColUserFollowers = "user_followers"
	ColUserFriends   = "user_friends"
	ColText          = "text"
	ColModelScore    = "model_score"
)

// RequiredColumns must be present in every dataset.
var RequiredColumns = []string{
	ColPostID, ColUserName, ColFavorites, ColRetweets,
	ColUserFollowers, ColUserFriends, ColText,
}

var (
	ErrResourceNotFound = errors.New("dataset not found")
	ErrSchema           = errors.New("dataset schema error")
	ErrDuplicatePost    = errors.New("duplicate post_id")
)

// Post is one row of a dataset.
type Post struct {
	PostID        string
	UserName      string
	Favorites     int64
	Retweets      int64
	UserFollowers int64
	UserFriends   int64
	Text          string
	ModelScore    float64
	HasScore      bool
}

// Table is an immutable, fully parsed dataset.
type Table struct {
	Source  string
	Columns []string
	Posts   []Post
}

// HasColumn reports whether the source header contained name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of posts.
func (t *Table) Len() int {
	return len(t.Posts)
}

// RequireColumns returns ErrSchema naming the first missing column.
func RequireColumns(t *Table, cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return fmt.Errorf("%w: %s: missing column %q", ErrSchema, t.Source, c)
		}
	}
	return nil
}

// Load reads the CSV at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, path)
		}
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer f.Close()

	return Parse(path, f)
}

// Parse reads a CSV dataset from r. source is used in error messages and
// as the table identity.
func Parse(source string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s: empty file", ErrSchema, source)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading header: %v", ErrSchema, source, err)
	}

	index := make(map[string]int, len(header))
	columns := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		columns[i] = name
		index[name] = i
	}

	t := &Table{Source: source, Columns: columns}
	if err := RequireColumns(t, RequiredColumns...); err != nil {
		return nil, err
	}

	_, hasScore := index[ColModelScore]
	seen := make(map[string]int)

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchema, source, err)
		}

		p, err := parseRow(record, index, hasScore)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrSchema, source, line, err)
		}
		if prev, ok := seen[p.PostID]; ok {
			return nil, fmt.Errorf("%w: %s: %q on lines %d and %d", ErrDuplicatePost, source, p.PostID, prev, line)
		}
		seen[p.PostID] = line
		t.Posts = append(t.Posts, p)
	}

	return t, nil
}

func parseRow(record []string, index map[string]int, hasScore bool) (Post, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[index[name]])
	}

	p := Post{
		PostID:   field(ColPostID),
		UserName: field(ColUserName),
		Text:     record[index[ColText]],
	}
	if p.PostID == "" {
		return p, fmt.Errorf("empty %s", ColPostID)
	}

	counts := []struct {
		name string
		dst  *int64
	}{
		{ColFavorites, &p.Favorites},
		{ColRetweets, &p.Retweets},
		{ColUserFollowers, &p.UserFollowers},
		{ColUserFriends, &p.UserFriends},
	}
	for _, c := range counts {
		n, err := parseCount(field(c.name))
		if err != nil {
			return p, fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = n
	}

	if hasScore {
		raw := field(ColModelScore)
		if raw == "" {
			return p, fmt.Errorf("empty %s", ColModelScore)
		}
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(score) {
			return p, fmt.Errorf("%s: invalid number %q", ColModelScore, raw)
		}
		p.ModelScore = score
		p.HasScore = true
	}

	return p, nil
}

// parseCount accepts integers and whole floats ("12", "12.0"). Blank is zero.
func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return int64(f), nil
}
