package knowledge

import "strings"

// Similarity returns the Ratcliff/Obershelp ratio of a and b, compared
// case-insensitively: twice the number of matching runes over the total rune count.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

// matchingRunes anchors on the longest common block and recurses on both sides of it.
func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, k := longestMatch(a, b)
	if k == 0 {
		return 0
	}
	return k + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+k:], b[j+k:])
}

// longestMatch finds the earliest longest common substring of a and b.
func longestMatch(a, b []rune) (i, j, size int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for x := 1; x <= len(a); x++ {
		for y := 1; y <= len(b); y++ {
			if a[x-1] != b[y-1] {
				cur[y] = 0
				continue
			}
			cur[y] = prev[y-1] + 1
			if cur[y] > size {
				size = cur[y]
				i, j = x-size, y-size
			}
		}
		prev, cur = cur, prev
	}
	return i, j, size
}
