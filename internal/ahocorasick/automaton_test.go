package ahocorasick

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/leakwatch/internal/core"
)

func naive(patterns []string, text string) []Match {
	var out []Match
	seen := map[string]bool{}
	for _, p := range patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		for i := 0; i+len(p) <= len(text); i++ {
			if text[i:i+len(p)] == p {
				out = append(out, Match{Pattern: p, End: i + len(p) - 1})
			}
		}
	}
	sortMatches(out)
	return out
}

func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].End != ms[j].End {
			return ms[i].End < ms[j].End
		}
		return ms[i].Pattern < ms[j].Pattern
	})
}

func TestScanFindsPatternInRequestLine(t *testing.T) {
	a, err := Build([]string{"phonenumber", "zipcode"})
	require.NoError(t, err)

	text := "GET /phonenumber.jpg HTTP/1.1"
	got := a.Scan([]byte(text))
	require.Len(t, got, 1)
	assert.Equal(t, "phonenumber", got[0].Pattern)
	assert.Equal(t, strings.Index(text, "phonenumber")+len("phonenumber")-1, got[0].End)
	assert.Equal(t, 5, got[0].Start())
}

func TestScanNoMatch(t *testing.T) {
	a, err := Build([]string{"phonenumber", "zipcode"})
	require.NoError(t, err)

	got := a.Scan([]byte("GET /o1cbbfc3/49eec09807_v21_phone.jpg HTTP/1.1"))
	assert.Empty(t, got)
}

func TestScanReportsSuffixPatterns(t *testing.T) {
	a, err := Build([]string{"phone", "one"})
	require.NoError(t, err)

	got := a.Scan([]byte("my phone"))
	sortMatches(got)
	assert.Equal(t, []Match{{"one", 7}, {"phone", 7}}, got)

	// suffix reached only through a failure link
	got = a.Scan([]byte("a bone"))
	assert.Equal(t, []Match{{"one", 5}}, got)
}

func TestScanClassicDictionary(t *testing.T) {
	a, err := Build([]string{"he", "she", "his", "hers"})
	require.NoError(t, err)

	got := a.Scan([]byte("ushers"))
	sortMatches(got)
	assert.Equal(t, []Match{{"he", 3}, {"she", 3}, {"hers", 5}}, got)
}

func TestScanOverlappingOccurrences(t *testing.T) {
	a, err := Build([]string{"aa"})
	require.NoError(t, err)

	got := a.Scan([]byte("aaaa"))
	assert.Equal(t, []Match{{"aa", 1}, {"aa", 2}, {"aa", 3}}, got)
}

func TestBuildEmptySet(t *testing.T) {
	a, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())
	assert.Empty(t, a.Scan([]byte("anything at all")))
}

func TestBuildRejectsEmptyPattern(t *testing.T) {
	_, err := Build([]string{"ok", ""})
	assert.True(t, errors.Is(err, core.ErrAutomatonBuild))
}

func TestBuildFoldsDuplicates(t *testing.T) {
	a, err := Build([]string{"imei", "imei", "mei"})
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
	assert.Len(t, a.Scan([]byte("imei")), 2)
}

func TestScanIsByteLevelAndCaseSensitive(t *testing.T) {
	a, err := Build([]string{"Zip", "\x00\xff"})
	require.NoError(t, err)

	assert.Empty(t, a.Scan([]byte("zip")))
	got := a.Scan([]byte{'Z', 'i', 'p', 0x00, 0xff})
	sortMatches(got)
	assert.Equal(t, []Match{{"Zip", 2}, {"\x00\xff", 4}}, got)
}

func TestScanIdempotent(t *testing.T) {
	a, err := Build([]string{"356938035643809", "3569", "8090"})
	require.NoError(t, err)

	buf := []byte("imei=356938035643809&x=35693569")
	first := a.Scan(buf)
	second := a.Scan(buf)
	assert.Equal(t, first, second)
}

func TestMatchesStopsEarly(t *testing.T) {
	a, err := Build([]string{"a"})
	require.NoError(t, err)

	n := 0
	for range a.Matches([]byte("aaaaaaaa")) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestScanMatchesNaiveSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := "abc"
	word := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(b)
	}

	for round := 0; round < 200; round++ {
		patterns := make([]string, 1+rng.Intn(6))
		for i := range patterns {
			patterns[i] = word(1 + rng.Intn(4))
		}
		text := word(rng.Intn(40))

		a, err := Build(patterns)
		require.NoError(t, err)
		got := a.Scan([]byte(text))
		sortMatches(got)

		want := naive(patterns, text)
		if len(want) == 0 {
			assert.Empty(t, got, "patterns %q text %q", patterns, text)
			continue
		}
		assert.Equal(t, want, got, "patterns %q text %q", patterns, text)
	}
}
