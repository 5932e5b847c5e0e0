// Package collect turns a participant's checkbox state into selection records.
package collect

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/TobiSchelling/pickclaims/internal/ordering"
)

// FlagField is the form field name carried by every post checkbox.
const FlagField = "flag"

// Header is the fixed column order of every target table.
var Header = []any{"timestamp", "user_id", "participant_id", "post_id", "rank", "selected", "condition"}

var ErrMissingParticipant = errors.New("participant ID is required")

// Record is one post's outcome in one submission.
type Record struct {
	Timestamp     time.Time
	UserID        string
	ParticipantID string
	PostID        string
	Rank          int
	Selected      bool
	Condition     ordering.Condition
}

// Row returns the record's cells in Header order.
func (r Record) Row() []any {
	return []any{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.UserID,
		r.ParticipantID,
		r.PostID,
		r.Rank,
		r.Selected,
		string(r.Condition),
	}
}

// Result is the outcome of one commit.
type Result struct {
	Records []Record
}

// Collector builds submission batches. Clock defaults to time.Now.
type Collector struct {
	Clock func() time.Time
}

// New creates a collector using the wall clock.
func New() *Collector {
	return &Collector{Clock: time.Now}
}

// Collect validates the participant ID and emits exactly one record per
// item in view, in view order. Posts absent from checked are recorded as
// not selected. A blank participant ID yields ErrMissingParticipant and no
// records.
func (c *Collector) Collect(userID, participantID string, view *ordering.View, checked map[string]bool) (*Result, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, ErrMissingParticipant
	}

	now := c.now().UTC()
	records := make([]Record, len(view.Items))
	for i, it := range view.Items {
		records[i] = Record{
			Timestamp:     now,
			UserID:        userID,
			ParticipantID: participantID,
			PostID:        it.Post.PostID,
			Rank:          it.Rank,
			Selected:      checked[it.Post.PostID],
			Condition:     view.Condition,
		}
	}
	return &Result{Records: records}, nil
}

func (c *Collector) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

// FlagsFromForm returns the set of post IDs whose checkbox was ticked.
func FlagsFromForm(form url.Values) map[string]bool {
	checked := make(map[string]bool)
	for _, id := range form[FlagField] {
		if id = strings.TrimSpace(id); id != "" {
			checked[id] = true
		}
	}
	return checked
}

// Rows converts records to table rows.
func Rows(records []Record) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	return rows
}
