package classify

// Ratio computes a similarity score in [0,1] between two strings using the
// length of their longest common subsequence, doubled over the combined
// length. Equivalent in spirit to difflib-style sequence matching, which is
// what the fuzzy thresholds in this package were tuned against.
func Ratio(a, b string) float64 {
	if a == b {
		if a == "" {
			return 1
		}
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}

	lcs := prev[lb]
	return 2.0 * float64(lcs) / float64(la+lb)
}
