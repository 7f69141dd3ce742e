package engine

import "strings"

// tokenSet 小写分词后的词集合。
func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard 按小写词集合计算两段文本的 Jaccard 相似度。
// 两段均为空视为相同，返回 1。
func Jaccard(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// ConvergenceScore 对一轮回复计算两两 Jaccard 相似度的平均值。
// 这是一个刻意保守的词面启发式：不做词干化，也不考虑语序。
// 空轮返回 0，单条回复返回 1。
func ConvergenceScore(replies []string) float64 {
	switch len(replies) {
	case 0:
		return 0
	case 1:
		return 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(replies); i++ {
		for j := i + 1; j < len(replies); j++ {
			sum += Jaccard(replies[i], replies[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
