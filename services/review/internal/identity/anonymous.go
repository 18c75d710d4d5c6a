package identity

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// AnonymousIDs mints pseudo-identities for reviews without a resolved
// author: "anon-<unix millis>-<random uuid>". The random part carries 122
// bits from crypto/rand, so IDs minted in the same millisecond still differ.
type AnonymousIDs struct {
	now    func() time.Time
	random io.Reader
}

// NewAnonymousIDs returns a generator backed by the wall clock and crypto/rand.
func NewAnonymousIDs() *AnonymousIDs {
	return &AnonymousIDs{now: time.Now, random: rand.Reader}
}

// NewID returns a fresh anonymous author ID.
func (g *AnonymousIDs) NewID() (string, error) {
	suffix, err := uuid.NewRandomFromReader(g.random)
	if err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return fmt.Sprintf("anon-%d-%s", g.now().UnixMilli(), suffix), nil
}

// Author returns a new anonymous author.
func (g *AnonymousIDs) Author() (domain.Author, error) {
	id, err := g.NewID()
	if err != nil {
		return domain.Author{}, err
	}
	return domain.Author{ID: id, DisplayName: domain.AnonymousDisplayName, Anonymous: true}, nil
}
