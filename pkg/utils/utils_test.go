package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrefixedIDFormat(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	id := PrefixedID("session", now)

	assert.Regexp(t, regexp.MustCompile(`^session_1700000000123_[0-9a-z]{9}$`), id)
	assert.NotEqual(t, id, PrefixedID("session", now))
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash([]byte("minutes of 1851"))
	b := ContentHash([]byte("minutes of 1851"))

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, ContentHash([]byte("minutes of 1852")))
	assert.Len(t, HashString("x"), 32)
}
