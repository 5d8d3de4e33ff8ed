package pathmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_SkipList(t *testing.T) {
	m, err := New([]string{"/health", "/admin/*"})
	require.NoError(t, err)

	assert.True(t, m.Match("/health"))
	assert.True(t, m.Match("/admin/users"))
	assert.True(t, m.Match("/admin/users/42"))
	assert.False(t, m.Match("/adminx"))
	assert.False(t, m.Match("/healthcheck"))
	assert.False(t, m.Match("/api/health"))
}

func TestMatcher_EmptyListNeverMatches(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	assert.True(t, m.Empty())
	assert.False(t, m.Match("/"))
	assert.False(t, m.Match(""))

	var nilMatcher *Matcher
	assert.False(t, nilMatcher.Match("/health"))
}

func TestMatcher_NativeRegexpIsAnchored(t *testing.T) {
	m, err := New([]string{`re:/api/v[0-9]+/games`})
	require.NoError(t, err)

	assert.True(t, m.Match("/api/v1/games"))
	assert.True(t, m.Match("/api/v12/games"))
	assert.False(t, m.Match("/api/v1/games/7"))
	assert.False(t, m.Match("/x/api/v1/games"))
}

func TestMatcher_GlobEscapesMetacharacters(t *testing.T) {
	m, err := New([]string{"/files/*.json"})
	require.NoError(t, err)

	assert.True(t, m.Match("/files/a.json"))
	assert.False(t, m.Match("/files/ajson"))
}

func TestMatcher_InvalidRegexp(t *testing.T) {
	_, err := New([]string{"re:/api/(unclosed"})
	require.Error(t, err)
}

func TestCompile_CachesBySource(t *testing.T) {
	a, err := compile("/cache/*")
	require.NoError(t, err)
	b, err := compile("/cache/*")
	require.NoError(t, err)

	assert.Same(t, a, b)
}
