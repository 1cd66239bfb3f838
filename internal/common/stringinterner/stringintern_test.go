package stringinterner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntern_ReturnsCachedInstance(t *testing.T) {
	interner := New(10)
	first := interner.Intern(strings.Repeat("Strategy Equity", 1))
	second := interner.Intern(string([]byte("Strategy Equity")))

	assert.Equal(t, first, second)
	assert.Equal(t, 1, interner.Len())
}

func TestIntern_EvictsLeastRecentlyUsed(t *testing.T) {
	interner := New(2)
	interner.Intern("a")
	interner.Intern("b")
	interner.Intern("c")
	assert.Equal(t, 2, interner.Len())
}
