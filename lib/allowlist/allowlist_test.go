package allowlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContains(t *testing.T) {
	l := MustNew("https://lecturesnap.app", "http://localhost:3000")

	testCases := []struct {
		origin string
		want   bool
	}{
		{"https://lecturesnap.app", true},
		{"HTTPS://LectureSnap.app", true},
		{"https://lecturesnap.app:443", true},
		{"http://localhost:3000", true},
		{"http://localhost:3001", false},
		{"https://evil.example", false},
		{"https://lecturesnap.app.evil.example", false},
		{"null", false},
		{"", false},
	}
	for _, tc := range testCases {
		t.Run(tc.origin, func(t *testing.T) {
			assert.Equal(t, tc.want, l.Contains(tc.origin))
		})
	}
}

func TestNewKeepsOrderAndDeduplicates(t *testing.T) {
	l, err := New(" https://b.example ", "https://a.example", "https://B.example/", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example", "https://a.example"}, l.Origins())
	assert.Equal(t, 2, l.Len())
}

func TestNewRejectsInvalidOrigins(t *testing.T) {
	for _, raw := range []string{"lecturesnap.app", "https://a.example/path", "https://a.example?q=1", "://bad"} {
		_, err := New(raw)
		require.Error(t, err, raw)
	}
}

func TestNilListAllowsNothing(t *testing.T) {
	var l *List
	assert.False(t, l.Contains("https://lecturesnap.app"))
	assert.Zero(t, l.Len())
	assert.Nil(t, l.Origins())
}
