package pattern

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmithlabs/errmond/internal/classify"
)

func newTestPattern(category classify.Category, severity classify.Severity, msg string) *Pattern {
	now := time.Now()
	return &Pattern{
		ErrorType: "Exception",
		Message:   msg,
		Category:  category,
		Severity:  severity,
		FirstSeen: now,
		LastSeen:  now,
		Count:     1,
		Examples:  []string{msg},
	}
}

func TestKeyUsesMessagePrefix(t *testing.T) {
	long := strings.Repeat("x", 80)
	p := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, long)

	key := p.Key()
	assert.Equal(t, fmt.Sprintf("timeout_error:%s", long[:50]), key)

	// Same prefix, different suffix: identical key.
	q := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, long[:50]+"different tail")
	assert.Equal(t, key, q.Key())
}

func TestKeyTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 80)
	p := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, long)

	key := p.Key()
	assert.True(t, utf8.ValidString(key))
	assert.Equal(t, fmt.Sprintf("timeout_error:%s", strings.Repeat("é", 50)), key)

	// Same first 50 runes, different tail: identical key.
	q := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, strings.Repeat("é", 50)+"different tail")
	assert.Equal(t, key, q.Key())
}

func TestUpsertMergesSameKey(t *testing.T) {
	store := NewStore()

	first := newTestPattern(classify.CategoryDatabase, classify.SeverityCritical, "connection pool exhausted")
	second := newTestPattern(classify.CategoryDatabase, classify.SeverityCritical, "connection pool exhausted")
	second.LastSeen = first.LastSeen.Add(time.Minute)

	store.Upsert(first)
	store.Upsert(second)

	require.Equal(t, 1, store.Len())
	got, ok := store.Get(first.Key())
	require.True(t, ok)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, second.LastSeen, got.LastSeen)
}

func TestUpsertOrderIndependentMergedState(t *testing.T) {
	a := newTestPattern(classify.CategoryCache, classify.SeverityMedium, "redis connection refused")
	b := newTestPattern(classify.CategoryAuth, classify.SeverityHigh, "invalid api key")

	s1 := NewStore()
	s1.Upsert(a)
	s1.Upsert(b)
	s1.Upsert(a)

	s2 := NewStore()
	s2.Upsert(a)
	s2.Upsert(a)
	s2.Upsert(b)

	require.Equal(t, s1.Len(), s2.Len())
	for _, key := range []string{a.Key(), b.Key()} {
		p1, ok := s1.Get(key)
		require.True(t, ok)
		p2, ok := s2.Get(key)
		require.True(t, ok)
		assert.Equal(t, p1.Count, p2.Count, "count for %s", key)
		assert.Equal(t, p1.Severity, p2.Severity)
	}
}

func TestExamplesCappedAndDeduplicated(t *testing.T) {
	store := NewStore()

	base := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, "request timeout hitting backend")
	store.Upsert(base)

	for i := 0; i < 20; i++ {
		p := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, "request timeout hitting backend")
		p.Examples = []string{fmt.Sprintf("request timeout hitting backend #%d", i)}
		store.Upsert(p)
	}

	got, ok := store.Get(base.Key())
	require.True(t, ok)
	assert.LessOrEqual(t, len(got.Examples), 10)
	assert.Equal(t, 21, got.Count)

	// Re-upserting an existing example must not duplicate it.
	dup := newTestPattern(classify.CategoryTimeout, classify.SeverityMedium, "request timeout hitting backend")
	dup.Examples = []string{got.Examples[0]}
	store.Upsert(dup)

	got2, _ := store.Get(base.Key())
	assert.Equal(t, len(got.Examples), len(got2.Examples))
}

func TestReadProjections(t *testing.T) {
	store := NewStore()

	crit := newTestPattern(classify.CategoryDatabase, classify.SeverityCritical, "database down")
	high := newTestPattern(classify.CategoryAuth, classify.SeverityHigh, "invalid api key")
	high.Fixable = true
	high.SuggestedFix = "Rotate API keys and update configuration"
	med := newTestPattern(classify.CategoryRateLimit, classify.SeverityMedium, "429 from upstream")
	med.Fixable = true
	med.Count = 7

	store.Upsert(crit)
	store.Upsert(high)
	store.Upsert(med)

	critical := store.Critical()
	require.Len(t, critical, 2)
	assert.Equal(t, classify.SeverityCritical, critical[0].Severity)
	assert.Equal(t, classify.SeverityHigh, critical[1].Severity)

	fixable := store.Fixable()
	require.Len(t, fixable, 2)
	assert.Equal(t, classify.SeverityHigh, fixable[0].Severity, "higher severity sorts first")

	all := store.All()
	require.Len(t, all, 3)

	counts := store.CountsByCategory()
	assert.Equal(t, 7, counts[classify.CategoryRateLimit])
	assert.Equal(t, 1, counts[classify.CategoryDatabase])
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	p := newTestPattern(classify.CategoryCache, classify.SeverityMedium, "cache miss storm")
	store.Upsert(p)

	got, ok := store.Get(p.Key())
	require.True(t, ok)
	got.Count = 999
	got.Examples[0] = "mutated"

	again, _ := store.Get(p.Key())
	assert.Equal(t, 1, again.Count)
	assert.Equal(t, "cache miss storm", again.Examples[0])
}
