package service

import (
	"fmt"
	"hash/fnv"
	"sort"

	"finpro-go/internal/model"
)

// Origin 标记候选段落来自哪一路检索信号。
type Origin uint8

const (
	OriginLexical Origin = 1 << iota
	OriginSemantic
)

func (o Origin) String() string {
	switch o {
	case OriginLexical:
		return "lexical"
	case OriginSemantic:
		return "semantic"
	case OriginLexical | OriginSemantic:
		return "lexical+semantic"
	default:
		return "none"
	}
}

// ScoredCandidate 是融合过程中的候选段落，只在一次检索内部存在。
type ScoredCandidate struct {
	Passage      model.Passage
	Score        float64
	Origin       Origin
	LexicalRank  int // 1 起始，0 表示未出现
	SemanticRank int

	key string
}

// passageKey 返回段落的身份。有 ID 时使用 ID，否则对 source、page 与内容取哈希。
func passageKey(p model.Passage) string {
	if p.ID != "" {
		return p.ID
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d|%s", p.Source, p.Page, p.Content)
	return fmt.Sprintf("fnv:%016x", h.Sum64())
}

// fuseRankings 以加权倒数排名融合两路排序结果: score = Σ w / (c + rank)。
// 权重为 0 的信号不贡献分数，总分为 0 的候选被丢弃。
// 排序依次按分数降序、语义排名升序、词法排名升序、身份字典序，保证结果确定。
func fuseRankings(lexical, semantic []model.Passage, lexicalWeight, semanticWeight float64, c int) []ScoredCandidate {
	byKey := make(map[string]*ScoredCandidate, len(lexical)+len(semantic))

	add := func(list []model.Passage, weight float64, origin Origin) {
		for i, p := range list {
			key := passageKey(p)
			cand, ok := byKey[key]
			if !ok {
				cand = &ScoredCandidate{Passage: p, key: key}
				byKey[key] = cand
			}
			rank := i + 1
			if origin == OriginLexical {
				if cand.LexicalRank != 0 {
					continue
				}
				cand.LexicalRank = rank
			} else {
				if cand.SemanticRank != 0 {
					continue
				}
				cand.SemanticRank = rank
			}
			if weight > 0 {
				cand.Score += weight / float64(c+rank)
				cand.Origin |= origin
			}
		}
	}
	add(lexical, lexicalWeight, OriginLexical)
	add(semantic, semanticWeight, OriginSemantic)

	out := make([]ScoredCandidate, 0, len(byKey))
	for _, cand := range byKey {
		if cand.Score > 0 {
			out = append(out, *cand)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		x, y := out[a], out[b]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if rx, ry := rankOrMax(x.SemanticRank), rankOrMax(y.SemanticRank); rx != ry {
			return rx < ry
		}
		if rx, ry := rankOrMax(x.LexicalRank), rankOrMax(y.LexicalRank); rx != ry {
			return rx < ry
		}
		return x.key < y.key
	})
	return out
}

func rankOrMax(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
