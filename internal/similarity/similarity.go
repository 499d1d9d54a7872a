// Package similarity provides bounded edit-distance comparison used to
// match page text against known challenge phrases.
package similarity

// MaxCompareLength bounds the compared prefix of each input, in runes.
// The dynamic program below is quadratic; the cap keeps one comparison at
// ~10^6 cell visits no matter how large the page is.
const MaxCompareLength = 1000

// Similarity returns a normalized score in [0, 1]: 1 for identical inputs,
// 0 for maximally different ones. Inputs are truncated to MaxCompareLength
// runes before comparison. Two empty strings are identical.
func Similarity(a, b string) float64 {
	ra := truncate(a)
	rb := truncate(b)

	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(distance(ra, rb))/float64(longest)
}

// Distance returns the Levenshtein distance between the truncated inputs.
func Distance(a, b string) int {
	return distance(truncate(a), truncate(b))
}

func truncate(s string) []rune {
	runes := []rune(s)
	if len(runes) > MaxCompareLength {
		runes = runes[:MaxCompareLength]
	}
	return runes
}

// distance is the classic two-row Levenshtein dynamic program.
func distance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
