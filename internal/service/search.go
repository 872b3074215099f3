package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/logger"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
)

const defaultSearchLimit = 20

// TextEmbedder resolves a text query into the shared embedding space.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher performs nearest-neighbour queries.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]repository.SearchResult, error)
}

// SearchService answers natural-language photo queries.
type SearchService struct {
	photos   *repository.PhotoRepository
	index    VectorSearcher
	embedder TextEmbedder
}

// NewSearchService creates a search service.
func NewSearchService(photos *repository.PhotoRepository, index VectorSearcher, embedder TextEmbedder) *SearchService {
	return &SearchService{photos: photos, index: index, embedder: embedder}
}

// Search embeds the query, runs a nearest-neighbour lookup, and returns
// matching photos in ranking order with their scores. The bulk row
// fetch does not guarantee order, so rows are re-ordered to the ranking
// before returning.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]domain.PhotoSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return []domain.PhotoSearchResult{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	photos, err := s.photos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Photo, len(photos))
	for i := range photos {
		byID[photos[i].ID] = &photos[i]
	}

	results := make([]domain.PhotoSearchResult, 0, len(hits))
	for _, h := range hits {
		photo, ok := byID[h.ID]
		if !ok {
			// Index is ahead of the relational store; skip the orphan.
			logger.CtxWarn(ctx, "vector hit %s has no photo row", h.ID)
			continue
		}
		results = append(results, domain.PhotoSearchResult{
			Photo: *photo,
			Score: h.Score,
		})
	}
	return results, nil
}
