package service

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"finpro-go/internal/model"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// stopwords 是分词时丢弃的常见英文虚词。
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during each few for from further
		had has have having he her here hers herself him himself his how i if in into is it its itself just me more
		most my myself no nor not now of off on once only or other our ours ourselves out over own same she should
		so some such than that the their theirs them themselves then there these they this those through to too
		under until up very was we were what when where which while who whom why will with would you your yours
		yourself yourselves`) {
		stopwords[w] = struct{}{}
	}
}

// tokenize 把文本切分为小写的字母数字词元，并去掉停用词。
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// lexicalRanker 对一组种子段落建立 BM25 Okapi 统计。
type lexicalRanker struct {
	passages []model.Passage
	termFreq []map[string]int
	docLen   []int
	docFreq  map[string]int
	avgLen   float64
}

func newLexicalRanker(passages []model.Passage) *lexicalRanker {
	r := &lexicalRanker{
		passages: passages,
		termFreq: make([]map[string]int, len(passages)),
		docLen:   make([]int, len(passages)),
		docFreq:  make(map[string]int),
	}
	total := 0
	for i, p := range passages {
		tokens := tokenize(p.Content)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			r.docFreq[tok]++
		}
		r.termFreq[i] = tf
		r.docLen[i] = len(tokens)
		total += len(tokens)
	}
	if len(passages) > 0 {
		r.avgLen = float64(total) / float64(len(passages))
	}
	return r
}

// idf 使用非负形式 ln((N-df+0.5)/(df+0.5)+1)。
func (r *lexicalRanker) idf(term string) float64 {
	n := float64(len(r.passages))
	df := float64(r.docFreq[term])
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

func (r *lexicalRanker) score(i int, query []string) float64 {
	tf := r.termFreq[i]
	dl := float64(r.docLen[i])
	norm := 1.0
	if r.avgLen > 0 {
		norm = 1 - bm25B + bm25B*dl/r.avgLen
	}
	var s float64
	for _, term := range query {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		s += r.idf(term) * f * (bm25K1 + 1) / (f + bm25K1*norm)
	}
	return s
}

// TopK 返回得分为正的前 k 个段落，得分相同时保持种子集顺序。
func (r *lexicalRanker) TopK(query string, k int) []model.Passage {
	terms := tokenize(query)
	if len(terms) == 0 || len(r.passages) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	hits := make([]scored, 0, len(r.passages))
	for i := range r.passages {
		if s := r.score(i, terms); s > 0 {
			hits = append(hits, scored{idx: i, score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]model.Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, r.passages[h.idx])
	}
	return out
}
