package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Bounds applied to every review, on submission and again when read back.
const (
	MinRating      = 1
	MaxRating      = 5
	MinTextLength  = 10
	MaxTextLength  = 1000
	MaxSportLength = 50

	// AnonymousDisplayName is stored for reviews without a resolved author.
	AnonymousDisplayName = "Anonymous User"
)

// ErrMalformedReview marks a stored record that fails boundary validation.
var ErrMalformedReview = errors.New("malformed review record")

// Review is one immutable rating left for a coach.
type Review struct {
	ID                string    `json:"id"`
	CoachID           string    `json:"coachId"`
	AuthorID          string    `json:"authorId"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	Rating            int       `json:"rating"`
	Text              string    `json:"reviewText"`
	Sport             string    `json:"sport,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Author identifies who wrote a review.
type Author struct {
	ID          string
	DisplayName string
	Anonymous   bool
}

// ValidRating reports whether r is an accepted star rating.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// TextLength returns the length of review text as counted for the bounds.
func TextLength(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}

// Validate checks a review read from a store. Records that fail are
// quarantined by callers instead of entering any arithmetic.
func (r *Review) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrMalformedReview)
	case r.CoachID == "":
		return fmt.Errorf("%w: review %s has no coach", ErrMalformedReview, r.ID)
	case r.AuthorID == "":
		return fmt.Errorf("%w: review %s has no author", ErrMalformedReview, r.ID)
	case !ValidRating(r.Rating):
		return fmt.Errorf("%w: review %s rating %d out of range", ErrMalformedReview, r.ID, r.Rating)
	case TextLength(r.Text) == 0:
		return fmt.Errorf("%w: review %s has empty text", ErrMalformedReview, r.ID)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: review %s has no creation time", ErrMalformedReview, r.ID)
	}
	return nil
}
