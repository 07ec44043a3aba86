package memory

import (
	"context"
	"math"
	"sort"
)

// Store 抽象了两张只追加表的持久化接口。重复内容会生成新的记录。
type Store interface {
	SaveMessage(ctx context.Context, record *MessageRecord) error
	SaveToolExecution(ctx context.Context, record *ToolExecutionRecord) error
	Close() error
}

// SimilarityIndex 返回与查询向量相似度不低于阈值的记录，按相似度降序，最多 limit 条。
type SimilarityIndex[T any] interface {
	Similar(ctx context.Context, vector []float64, threshold float64, limit int) ([]T, error)
}

// SimilarityFunc 允许直接使用函数实现 SimilarityIndex。
type SimilarityFunc[T any] func(ctx context.Context, vector []float64, threshold float64, limit int) ([]T, error)

// Similar 实现 SimilarityIndex。
func (f SimilarityFunc[T]) Similar(ctx context.Context, vector []float64, threshold float64, limit int) ([]T, error) {
	return f(ctx, vector, threshold, limit)
}

// Searcher 由同时支持两类检索的存储实现。
type Searcher interface {
	SimilarMessages(ctx context.Context, vector []float64, threshold float64, limit int) ([]MessageRecord, error)
	SimilarToolExecutions(ctx context.Context, vector []float64, threshold float64, limit int) ([]ToolExecutionRecord, error)
}

// MessageIndex 将 Searcher 的消息检索暴露为 SimilarityIndex。
func MessageIndex(s Searcher) SimilarityIndex[MessageRecord] {
	return SimilarityFunc[MessageRecord](s.SimilarMessages)
}

// ToolExecutionIndex 将 Searcher 的工具执行检索暴露为 SimilarityIndex。
func ToolExecutionIndex(s Searcher) SimilarityIndex[ToolExecutionRecord] {
	return SimilarityFunc[ToolExecutionRecord](s.SimilarToolExecutions)
}

// Cosine 计算两个向量的余弦相似度，维度不一致或存在零向量时返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank 对候选记录打分，保留不低于阈值的记录并按相似度降序截取前 limit 条。
// 相似度相同的记录保持候选顺序。
func Rank[T any](candidates []T, vectorOf func(T) []float64, query []float64, threshold float64, limit int) []T {
	type scored struct {
		item  T
		score float64
	}
	matches := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score := Cosine(vectorOf(c), query)
		if score >= threshold {
			matches = append(matches, scored{item: c, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]T, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.item)
	}
	return out
}
