package identity

import (
	"bytes"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

var anonPattern = regexp.MustCompile(`^anon-\d+-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestAnonymousIDs_Format(t *testing.T) {
	g := NewAnonymousIDs()
	g.now = func() time.Time { return time.UnixMilli(1767225600000) }

	id, err := g.NewID()
	require.NoError(t, err)
	assert.Regexp(t, anonPattern, id)
	assert.Contains(t, id, "anon-1767225600000-")
}

func TestAnonymousIDs_UniqueUnderFrozenClock(t *testing.T) {
	g := NewAnonymousIDs()
	frozen := time.Now()
	g.now = func() time.Time { return frozen }

	const n = 1000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.NewID()
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestAnonymousIDs_RandomFailure(t *testing.T) {
	g := NewAnonymousIDs()
	g.random = bytes.NewReader(nil)

	_, err := g.NewID()
	assert.Error(t, err)
}

func TestAnonymousIDs_Author(t *testing.T) {
	author, err := NewAnonymousIDs().Author()
	require.NoError(t, err)

	assert.True(t, author.Anonymous)
	assert.Equal(t, domain.AnonymousDisplayName, author.DisplayName)
	assert.Regexp(t, anonPattern, author.ID)
}
