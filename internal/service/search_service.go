// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"strings"

	"finpro-go/internal/config"
	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/pkg/embedding"
	"finpro-go/pkg/log"
	"finpro-go/pkg/resilience"

	"golang.org/x/sync/errgroup"
)

// SearchOptions 覆盖单次检索的默认参数，零值表示使用配置。
type SearchOptions struct {
	TopK           int
	LexicalWeight  *float64
	SemanticWeight *float64
}

// SearchService 接口定义了搜索操作。
type SearchService interface {
	// HybridSearch 在 scope 指定的文档内执行词法与语义混合检索，返回融合后的前 K 个段落。
	HybridSearch(ctx context.Context, query string, scope []string, opts SearchOptions) ([]model.Passage, error)
}

type searchService struct {
	embeddingClient embedding.Client
	passageRepo     repository.PassageRepository
	cfg             config.RetrievalConfig
	executor        *resilience.Executor
}

// NewSearchService 创建一个新的 SearchService 实例。executor 为 nil 时外部调用不经过熔断器。
func NewSearchService(embeddingClient embedding.Client, passageRepo repository.PassageRepository, cfg config.RetrievalConfig, executor *resilience.Executor) SearchService {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.SeedLimit < cfg.TopK {
		cfg.SeedLimit = 1000
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = 60
	}
	if cfg.LexicalWeight == 0 && cfg.SemanticWeight == 0 {
		cfg.LexicalWeight, cfg.SemanticWeight = 0.5, 0.5
	}
	return &searchService{
		embeddingClient: embeddingClient,
		passageRepo:     passageRepo,
		cfg:             cfg,
		executor:        executor,
	}
}

// normalizeScope 去除空白与重复路径，保持首次出现的顺序。
func normalizeScope(scope []string) ([]string, error) {
	seen := make(map[string]struct{}, len(scope))
	out := make([]string, 0, len(scope))
	for _, s := range scope {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, validationError("at least one document path is required")
	}
	return out, nil
}

func (s *searchService) resolveOptions(opts SearchOptions) (topK int, lexical, semantic float64, err error) {
	topK = s.cfg.TopK
	if opts.TopK != 0 {
		topK = opts.TopK
	}
	if topK <= 0 {
		return 0, 0, 0, validationError("top_k must be positive, got %d", topK)
	}
	lexical, semantic = s.cfg.LexicalWeight, s.cfg.SemanticWeight
	if opts.LexicalWeight != nil {
		lexical = *opts.LexicalWeight
	}
	if opts.SemanticWeight != nil {
		semantic = *opts.SemanticWeight
	}
	if !config.ValidFusionWeights(lexical, semantic) {
		return 0, 0, 0, validationError("fusion weights must be within [0, 1] and sum to 1, got %.3f/%.3f", lexical, semantic)
	}
	return topK, lexical, semantic, nil
}

func (s *searchService) guard(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, operation, 1, fn)
}

// HybridSearch 并行取回范围内的种子段落和语义近邻，在种子集上计算 BM25，再以加权 RRF 融合。
func (s *searchService) HybridSearch(ctx context.Context, query string, scope []string, opts SearchOptions) ([]model.Passage, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return nil, err
	}
	topK, lexicalWeight, semanticWeight, err := s.resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationError("query must not be empty")
	}
	log.Infof("[SearchService] 开始执行混合检索, query: '%s', scope: %v, topK: %d", query, scope, topK)

	var (
		seeds    []model.Passage
		semantic []model.Passage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.guard(gctx, "passage_fetch", func(ctx context.Context) error {
			var err error
			seeds, err = s.passageRepo.FetchByScope(ctx, scope, s.cfg.SeedLimit)
			return err
		})
	})
	g.Go(func() error {
		var vector []float32
		err := s.guard(gctx, "embedding", func(ctx context.Context) error {
			var err error
			vector, err = s.embeddingClient.CreateEmbedding(ctx, query)
			return err
		})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		return s.guard(gctx, "semantic_search", func(ctx context.Context) error {
			hits, err := s.passageRepo.SemanticSearch(ctx, vector, scope, topK)
			if err != nil {
				return err
			}
			semantic = make([]model.Passage, 0, len(hits))
			for _, h := range hits {
				semantic = append(semantic, h.Passage)
			}
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		log.Errorf("[SearchService] 检索失败: %v", err)
		return nil, wrapError(ErrExternalService, "retrieve passages", err)
	}

	lexical := newLexicalRanker(seeds).TopK(query, topK)
	log.Infof("[SearchService] 种子段落 %d 个, 词法命中 %d 个, 语义命中 %d 个", len(seeds), len(lexical), len(semantic))

	fused := fuseRankings(lexical, semantic, lexicalWeight, semanticWeight, s.cfg.RRFConstant)

	allowed := make(map[string]struct{}, len(scope))
	for _, p := range scope {
		allowed[p] = struct{}{}
	}
	out := make([]model.Passage, 0, topK)
	for _, cand := range fused {
		if _, ok := allowed[cand.Passage.Source]; !ok {
			log.Warnf("[SearchService] 丢弃范围之外的段落, source: %s", cand.Passage.Source)
			continue
		}
		out = append(out, cand.Passage)
		if len(out) == topK {
			break
		}
	}
	log.Infof("[SearchService] 混合检索完成, 返回 %d 个段落", len(out))
	return out, nil
}
