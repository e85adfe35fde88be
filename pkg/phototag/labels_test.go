package phototag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"landscape, bird, beach", []string{"landscape", "bird", "beach"}},
		{"\"sunrise\", 'urban',  boat.\n", []string{"sunrise", "urban", "boat"}},
		{"bw,, ,rock", []string{"bw", "rock"}},
		{"", nil},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, parseTags(tc.in), tc.in)
	}
}

func TestLimited(t *testing.T) {
	f := &fakeLabeler{labels: []string{"a", "b", "c"}}

	got, err := Limited(f, 2).DetectLabels(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = Limited(f, 0).DetectLabels(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestLimitedPassesErrors(t *testing.T) {
	f := &fakeLabeler{err: errors.New("denied")}
	_, err := Limited(f, 2).DetectLabels(context.Background(), nil)
	assert.EqualError(t, err, "denied")
}

func TestRateLimitedCancelled(t *testing.T) {
	f := &fakeLabeler{labels: []string{"a"}}
	l := RateLimited(f, 0.001, 1)

	_, err := l.DetectLabels(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.DetectLabels(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.calls)
}

func TestRateLimitedDisabled(t *testing.T) {
	f := &fakeLabeler{}
	assert.Same(t, f, RateLimited(f, 0, 1))
}

func TestNewLabelerUnknownBackend(t *testing.T) {
	c := Default()
	c.Label.Backend = "clip"
	_, err := NewLabeler(context.Background(), c)
	assert.ErrorIs(t, err, ErrConfig)
}
