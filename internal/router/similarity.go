package router

import (
	"regexp"
	"strings"
)

var (
	controlUpLinkRe = regexp.MustCompile(`controlup://\S+`)
	punctuationRe   = regexp.MustCompile(`[^\w\s]`)
)

// Normalize prepares a trigger name for comparison: lowercase, strip
// monitoring-tool deep links, replace punctuation with spaces, collapse
// whitespace.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = controlUpLinkRe.ReplaceAllString(text, "")
	text = punctuationRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		out[tok] = struct{}{}
	}
	return out
}

// Similarity scores two trigger names in [0,1]: a weighted blend of
// character-sequence similarity (45%) and token Jaccard overlap (55%),
// with an exact-match fast path. Inputs are normalized internally.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	seq := sequenceRatio(na, nb)

	ta, tb := tokenize(na), tokenize(nb)
	jaccard := 0.0
	if len(ta) > 0 && len(tb) > 0 {
		inter := 0
		for tok := range ta {
			if _, ok := tb[tok]; ok {
				inter++
			}
		}
		union := len(ta) + len(tb) - inter
		if union > 0 {
			jaccard = float64(inter) / float64(union)
		}
	}

	return seq*0.45 + jaccard*0.55
}

// sequenceRatio is 2*M/(len(a)+len(b)) where M is the total length of
// the matching blocks found by recursively taking the longest common
// substring and matching the pieces on either side of it.
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}
	m := matchingLen(ra, rb)
	return 2 * float64(m) / float64(len(ra)+len(rb))
}

func matchingLen(a, b []rune) int {
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingLen(a[:ai], b[:bi])
	total += matchingLen(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonBlock finds the longest common substring of a and b,
// preferring the earliest occurrence in a, then in b.
func longestCommonBlock(a, b []rune) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// lengths[j] = longest common suffix of a[:i+1] and b[:j+1]
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			if a[i] == b[j] {
				cur[j+1] = prev[j] + 1
				if cur[j+1] > size {
					size = cur[j+1]
					ai = i - size + 1
					bi = j - size + 1
				}
			} else {
				cur[j+1] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
