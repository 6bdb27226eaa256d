// Package domain contains the core domain models for package resolution:
// records, versions, match specs, jobs and the error taxonomy.
package domain

import (
	"fmt"
	"strconv"
	"strings"

	"go.trai.ch/zerr"
)

// Version is a parsed package version, ordered by the channel version
// grammar: an optional epoch ("1!2.0"), then dot/underscore/dash separated
// segments where digit runs compare numerically, letter runs compare
// case-insensitively, and a digit run always outranks a letter run at the
// same position ("1.2" > "1.2rc1"). Missing segments compare as zero, so
// "1.2" equals "1.2.0".
type Version struct {
	raw      string
	epoch    int
	segments [][]versionToken
}

type versionToken struct {
	num     int
	alpha   string
	numeric bool
}

// ParseVersion parses a version string. The empty string is invalid.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, zerr.With(zerr.Wrap(ErrInvalidVersion, ""), "version", s)
	}

	v := Version{raw: s}
	rest := strings.ToLower(strings.TrimSpace(s))

	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		epoch, err := strconv.Atoi(rest[:bang])
		if err != nil {
			return Version{}, zerr.With(fmt.Errorf("%w: %w", ErrInvalidVersion, err), "version", s)
		}
		v.epoch = epoch
		rest = rest[bang+1:]
	}

	for _, seg := range splitSegments(rest) {
		tokens := tokenizeSegment(seg)
		if tokens == nil {
			return Version{}, zerr.With(zerr.Wrap(ErrInvalidVersion, ""), "version", s)
		}
		v.segments = append(v.segments, tokens)
	}
	if len(v.segments) == 0 {
		return Version{}, zerr.With(zerr.Wrap(ErrInvalidVersion, ""), "version", s)
	}
	return v, nil
}

// MustParseVersion is ParseVersion for statically known inputs. It panics on
// parse failure and is intended for tests and literals.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
}

// tokenizeSegment splits a segment like "2rc1" into alternating digit and
// letter runs. Returns nil if the segment holds anything else.
func tokenizeSegment(seg string) []versionToken {
	var tokens []versionToken
	i := 0
	for i < len(seg) {
		c := seg[i]
		switch {
		case c >= '0' && c <= '9':
			j := i
			for j < len(seg) && seg[j] >= '0' && seg[j] <= '9' {
				j++
			}
			n, err := strconv.Atoi(seg[i:j])
			if err != nil {
				return nil
			}
			tokens = append(tokens, versionToken{num: n, numeric: true})
			i = j
		case c >= 'a' && c <= 'z':
			j := i
			for j < len(seg) && seg[j] >= 'a' && seg[j] <= 'z' {
				j++
			}
			tokens = append(tokens, versionToken{alpha: seg[i:j]})
			i = j
		default:
			return nil
		}
	}
	return tokens
}

// String returns the original version string.
func (v Version) String() string {
	return v.raw
}

// Compare orders v against o: -1 if v is older, 0 if equal, 1 if newer.
func (v Version) Compare(o Version) int {
	if v.epoch != o.epoch {
		if v.epoch < o.epoch {
			return -1
		}
		return 1
	}

	n := max(len(v.segments), len(o.segments))
	for i := range n {
		if c := compareSegments(segmentAt(v.segments, i), segmentAt(o.segments, i)); c != 0 {
			return c
		}
	}
	return 0
}

// zeroSegment stands in for a missing segment so "1.2" == "1.2.0".
var zeroSegment = []versionToken{{num: 0, numeric: true}}

func segmentAt(segments [][]versionToken, i int) []versionToken {
	if i < len(segments) {
		return segments[i]
	}
	return zeroSegment
}

func compareSegments(a, b []versionToken) int {
	n := max(len(a), len(b))
	for i := range n {
		at := tokenAt(a, i)
		bt := tokenAt(b, i)
		if c := compareTokens(at, bt); c != 0 {
			return c
		}
	}
	return 0
}

func tokenAt(tokens []versionToken, i int) versionToken {
	if i < len(tokens) {
		return tokens[i]
	}
	return versionToken{num: 0, numeric: true}
}

func compareTokens(a, b versionToken) int {
	switch {
	case a.numeric && b.numeric:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	case a.numeric:
		// digit beats letter: "1.2" > "1.2rc"
		return 1
	case b.numeric:
		return -1
	default:
		return strings.Compare(a.alpha, b.alpha)
	}
}

// StartsWith reports whether v begins with the segments of prefix. It backs
// prefix constraints ("=1.2") and trailing wildcards ("1.2.*").
func (v Version) StartsWith(prefix Version) bool {
	if v.epoch != prefix.epoch {
		return false
	}
	if len(prefix.segments) > len(v.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if compareSegments(v.segments[i], seg) != 0 {
			return false
		}
	}
	return true
}
