package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"finpro-go/internal/model"
	"finpro-go/pkg/log"
	"finpro-go/pkg/pathmeta"

	"github.com/elastic/go-elasticsearch/v8"
)

// ScoredPassage 是语义索引返回的段落及其相似度分数，按分数降序排列。
type ScoredPassage struct {
	Passage model.Passage
	Score   float64
}

// PassageRepository 是语义索引的访问接口，所有查询都按文档路径范围过滤。
type PassageRepository interface {
	// FetchByScope 批量取回范围内的段落（不做相关性排序），最多 limit 条。
	FetchByScope(ctx context.Context, scope []string, limit int) ([]model.Passage, error)
	// SemanticSearch 返回范围内与向量最相似的 k 个段落。
	SemanticSearch(ctx context.Context, vector []float32, scope []string, k int) ([]ScoredPassage, error)
}

type esPassageRepository struct {
	client    *elasticsearch.Client
	indexName string
}

// NewPassageRepository 创建基于 Elasticsearch 的段落索引访问实现。
func NewPassageRepository(client *elasticsearch.Client, indexName string) PassageRepository {
	return &esPassageRepository{client: client, indexName: indexName}
}

// esPassage 是 _source 中存储的段落文档。
type esPassage struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Page     int            `json:"page"`
	Metadata map[string]any `json:"metadata"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string    `json:"_id"`
			Score  *float64  `json:"_score"`
			Source esPassage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func scopeFilter(scope []string) map[string]interface{} {
	return map[string]interface{}{
		"terms": map[string]interface{}{"source": scope},
	}
}

func (r *esPassageRepository) FetchByScope(ctx context.Context, scope []string, limit int) ([]model.Passage, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{scopeFilter(scope)},
			},
		},
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
	hits, err := r.search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]model.Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Passage)
	}
	return out, nil
}

func (r *esPassageRepository) SemanticSearch(ctx context.Context, vector []float32, scope []string, k int) ([]ScoredPassage, error) {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]interface{}{
		"size": k,
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter":         scopeFilter(scope),
		},
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
	return r.search(ctx, query)
}

func (r *esPassageRepository) search(ctx context.Context, query map[string]interface{}) ([]ScoredPassage, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.indexName),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[PassageRepository] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		log.Errorf("[PassageRepository] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]ScoredPassage, 0, len(esResp.Hits.Hits))
	for _, hit := range esResp.Hits.Hits {
		meta := make(map[string]any, len(hit.Source.Metadata)+1)
		for k, v := range hit.Source.Metadata {
			meta[k] = v
		}
		if p, ok := pathmeta.PeriodFromPath(hit.Source.Source); ok {
			meta["period"] = p.String()
		}
		sp := ScoredPassage{Passage: model.Passage{
			ID:       hit.ID,
			Content:  hit.Source.Content,
			Source:   hit.Source.Source,
			Page:     hit.Source.Page,
			Metadata: meta,
		}}
		if hit.Score != nil {
			sp.Score = *hit.Score
		}
		out = append(out, sp)
	}
	return out, nil
}
