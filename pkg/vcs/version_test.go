package vcs

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"T", 0, false},
		{"t", 0, false},
		{"C42", 42, false},
		{"c7", 7, false},
		{"C0", 0, true},
		{"C", 0, true},
		{"L5", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVersionSpec(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseRecursion(t *testing.T) {
	r, err := ParseRecursion("")
	require.NoError(t, err)
	assert.Equal(t, RecursionNone, r)

	r, err = ParseRecursion("Full")
	require.NoError(t, err)
	assert.Equal(t, RecursionFull, r)

	_, err = ParseRecursion("deep")
	assert.Error(t, err)
}

func TestHistoryQueryFromValues(t *testing.T) {
	_, err := HistoryQueryFromValues(url.Values{})
	assert.Error(t, err)

	_, err = HistoryQueryFromValues(url.Values{"path": {"$/a"}, "max_count": {"-1"}})
	assert.Error(t, err)

	q := HistoryQuery{Path: "$/a", Version: "C3", Recursion: RecursionOneLevel, MaxCount: 4, SlotMode: true}
	got, err := HistoryQueryFromValues(q.Values())
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestErrorHelpers(t *testing.T) {
	err := error(&QueryError{Path: "$/a", Code: CodeNotFound, Err: assert.AnError})
	assert.True(t, IsQueryError(err))
	assert.False(t, IsConnectionError(err))
	code, ok := QueryErrorCode(err)
	assert.True(t, ok)
	assert.Equal(t, CodeNotFound, code)
	assert.ErrorIs(t, err, assert.AnError)
}
