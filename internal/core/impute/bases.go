package impute

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/kfurusawa/winprob/internal/core/state"
)

// NormalizeBases folds the three wire shapes of the bases field into the
// canonical 3-bit mask (bit 0 = first base, bit 1 = second, bit 2 = third).
//
// Accepted shapes:
//   - a number: already a mask in [0,7]
//   - an array of occupied base numbers, e.g. [2,3]
//   - a descriptive string: ASCII ("2B, 3B", "second and third"), kanji
//     ("二塁・三塁", "一塁"), the loaded marker ("満塁", "loaded"), or the
//     empty marker ("走者なし", "empty")
//
// Full-width digits and letters are NFKC-folded before matching, so
// "２塁" and "2塁" are the same input.
func NormalizeBases(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return maskFromInt(int64(t))
	case int64:
		return maskFromInt(t)
	case float64:
		return maskFromInt(int64(t))
	case []int:
		mask := 0
		for _, b := range t {
			bit, err := bitForBase(int64(b))
			if err != nil {
				return 0, err
			}
			mask |= bit
		}
		return mask, nil
	case []any:
		mask := 0
		for _, e := range t {
			var n int64
			switch b := e.(type) {
			case int:
				n = int64(b)
			case int64:
				n = b
			case float64:
				n = int64(b)
			case string:
				parsed, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
				if err != nil {
					return 0, fmt.Errorf("bases: non-numeric array element %q", b)
				}
				n = parsed
			default:
				return 0, fmt.Errorf("bases: unsupported array element type %T", e)
			}
			bit, err := bitForBase(n)
			if err != nil {
				return 0, err
			}
			mask |= bit
		}
		return mask, nil
	case string:
		return maskFromString(t)
	default:
		return 0, fmt.Errorf("bases: unsupported type %T", v)
	}
}

func maskFromInt(n int64) (int, error) {
	if n < state.BasesEmpty || n > state.BasesLoaded {
		return 0, fmt.Errorf("bases: mask %d out of range [0,7]", n)
	}
	return int(n), nil
}

func bitForBase(n int64) (int, error) {
	switch n {
	case 1:
		return state.BaseFirst, nil
	case 2:
		return state.BaseSecond, nil
	case 3:
		return state.BaseThird, nil
	default:
		return 0, fmt.Errorf("bases: base number %d out of range [1,3]", n)
	}
}

// baseTokens maps descriptive fragments to mask bits. Matched against the
// NFKC-folded, lowercased input by substring.
var baseTokens = []struct {
	token string
	bit   int
}{
	{"一塁", state.BaseFirst},
	{"二塁", state.BaseSecond},
	{"三塁", state.BaseThird},
	{"1b", state.BaseFirst},
	{"2b", state.BaseSecond},
	{"3b", state.BaseThird},
	{"first", state.BaseFirst},
	{"second", state.BaseSecond},
	{"third", state.BaseThird},
	// Bare kanji numerals, for feeds that drop the 塁 suffix ("二・三").
	{"一", state.BaseFirst},
	{"二", state.BaseSecond},
	{"三", state.BaseThird},
}

func maskFromString(s string) (int, error) {
	folded := strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
	if folded == "" {
		return 0, fmt.Errorf("bases: empty string")
	}

	// Loaded / empty markers short-circuit everything else.
	for _, marker := range []string{"満塁", "loaded", "full"} {
		if strings.Contains(folded, marker) {
			return state.BasesLoaded, nil
		}
	}
	for _, marker := range []string{"走者なし", "無走者", "なし", "empty", "none"} {
		if strings.Contains(folded, marker) {
			return state.BasesEmpty, nil
		}
	}

	// A bare number is a mask, e.g. "6".
	if n, err := strconv.ParseInt(folded, 10, 64); err == nil {
		return maskFromInt(n)
	}

	mask := 0
	matched := false
	for _, bt := range baseTokens {
		if strings.Contains(folded, bt.token) {
			mask |= bt.bit
			matched = true
		}
	}

	// Fallback: loose digits in a descriptive string are base numbers,
	// e.g. "runners on 2 and 3". Only digits not already consumed by the
	// "1b"/"2b" tokens matter here; re-scanning is harmless because the
	// result is a bitwise OR.
	for _, r := range folded {
		if unicode.IsDigit(r) {
			if bit, err := bitForBase(int64(r - '0')); err == nil {
				mask |= bit
				matched = true
			}
		}
	}

	if !matched {
		return 0, fmt.Errorf("bases: unrecognized description %q", s)
	}
	return mask, nil
}
