package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{33.6789, "33.6"},
		{-117.84, "-117.8"},
		{33.7, "33.7"},
		{0, "0.0"},
		{0.05, "0.0"},
		{-0.05, "0.0"},
		{-0.15, "-0.1"},
		{179.99, "179.9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in), "Format(%v)", tt.in)
	}
}

func TestCandidates(t *testing.T) {
	s := NewStatic()
	lats, lons := s.CurrentCandidates()
	assert.Nil(t, lats)
	assert.Nil(t, lons)
	assert.Equal(t, Unknown, s.Summary())

	s.Set(33.6789, -117.84)
	lats, lons = s.CurrentCandidates()
	assert.Equal(t, []string{"33.6", "33.5", "33.7"}, lats)
	assert.Equal(t, []string{"-117.8", "-117.9", "-117.7"}, lons)
	assert.Equal(t, "33.6789|-117.84", s.Summary())

	s.Set(0.02, 0.5)
	lats, _ = s.CurrentCandidates()
	assert.Equal(t, []string{"0.0", "-0.1", "0.1"}, lats)
}

func TestSetNotifiesOnVisibleChange(t *testing.T) {
	s := NewStatic()
	calls := 0
	s.Subscribe(func() { calls++ })

	s.Set(33.61, -117.81)
	assert.Equal(t, 1, calls)

	s.Set(33.69, -117.89)
	assert.Equal(t, 1, calls, "same tenths")

	s.Set(33.71, -117.89)
	assert.Equal(t, 2, calls)

	s.Clear()
	s.Clear()
	assert.Equal(t, 3, calls)
}
