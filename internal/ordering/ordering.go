// Package ordering builds the two presentation orders of a dataset.
package ordering

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/TobiSchelling/pickclaims/internal/dataset"
)

// Condition names a presentation strategy. The string value is what gets
// written to the condition column.
type Condition string

const (
	Manual     Condition = "Manual View"
	ToolRanked Condition = "Tool-Ranked View"
)

// Conditions lists every condition in tab order.
var Conditions = []Condition{Manual, ToolRanked}

var (
	ErrFieldMissing     = errors.New("field missing")
	ErrUnknownCondition = errors.New("unknown condition")
)

// Slug returns the short URL-safe name of the condition.
func (c Condition) Slug() string {
	switch c {
	case Manual:
		return "manual"
	case ToolRanked:
		return "tool"
	}
	return ""
}

// ParseCondition maps a slug back to its Condition.
func ParseCondition(slug string) (Condition, error) {
	for _, c := range Conditions {
		if c.Slug() == slug {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCondition, slug)
}

// Item is a post at a 1-based rank.
type Item struct {
	Rank int
	Post dataset.Post
}

// View is an ordered sequence of posts for one condition.
type View struct {
	Condition Condition
	Items     []Item
}

// Len returns the number of posts in the view.
func (v *View) Len() int {
	return len(v.Items)
}

// PostIDs returns the post IDs in display order.
func (v *View) PostIDs() []string {
	ids := make([]string, len(v.Items))
	for i, it := range v.Items {
		ids[i] = it.Post.PostID
	}
	return ids
}

func newView(c Condition, posts []dataset.Post) *View {
	v := &View{Condition: c, Items: make([]Item, len(posts))}
	for i, p := range posts {
		v.Items[i] = Item{Rank: i + 1, Post: p}
	}
	return v
}

// Shuffle returns a uniformly random permutation of the table. A nil rng
// uses the runtime-seeded global source, so every call reshuffles.
func Shuffle(t *dataset.Table, rng *rand.Rand) *View {
	posts := slices.Clone(t.Posts)
	swap := func(i, j int) { posts[i], posts[j] = posts[j], posts[i] }
	if rng != nil {
		rng.Shuffle(len(posts), swap)
	} else {
		rand.Shuffle(len(posts), swap)
	}
	return newView(Manual, posts)
}

// RankByScore sorts the table by model_score, highest first. Equal
// scores keep their input order.
func RankByScore(t *dataset.Table) (*View, error) {
	if !t.HasColumn(dataset.ColModelScore) {
		return nil, fmt.Errorf("%w: %s has no %s column", ErrFieldMissing, t.Source, dataset.ColModelScore)
	}

	posts := slices.Clone(t.Posts)
	slices.SortStableFunc(posts, func(a, b dataset.Post) int {
		return cmp.Compare(b.ModelScore, a.ModelScore)
	})
	return newView(ToolRanked, posts), nil
}

// Build produces the view for condition c.
func Build(c Condition, t *dataset.Table) (*View, error) {
	switch c {
	case Manual:
		return Shuffle(t, nil), nil
	case ToolRanked:
		return RankByScore(t)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, string(c))
}
