package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"admissions-workflow/backend/pkg/models"

	"github.com/patrickmn/go-cache"
)

var _ WorkflowRepository = (*CachedGraphRepository)(nil)

// CachedGraphRepository caches hydrated reads of another WorkflowRepository.
// Every mutation made through it flushes the cache, so it is only coherent
// when it is the sole writer of the underlying store. Cached values are
// shared between callers and must not be modified.
type CachedGraphRepository struct {
	next  WorkflowRepository
	cache *cache.Cache
	// gen is bumped by every mutation. A load that overlapped one is not
	// stored.
	gen atomic.Uint64
}

// NewCachedGraphRepository wraps next. A ttl of zero or less disables
// caching and returns next unchanged.
func NewCachedGraphRepository(next WorkflowRepository, ttl time.Duration) WorkflowRepository {
	if ttl <= 0 {
		return next
	}
	return &CachedGraphRepository{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func cached[T any](c *CachedGraphRepository, key string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(T), nil
	}
	gen := c.gen.Load()
	v, err := load()
	if err != nil || c.gen.Load() != gen {
		return v, err
	}
	c.cache.SetDefault(key, v)
	if c.gen.Load() != gen {
		c.cache.Delete(key)
	}
	return v, nil
}

func (c *CachedGraphRepository) invalidate(err error) error {
	c.gen.Add(1)
	c.cache.Flush()
	return err
}

func (c *CachedGraphRepository) CreateWorkflow(ctx context.Context, spec models.WorkflowSpec) (*models.WorkflowGraph, error) {
	g, err := c.next.CreateWorkflow(ctx, spec)
	return g, c.invalidate(err)
}

func (c *CachedGraphRepository) UpdateWorkflow(ctx context.Context, id string, spec models.WorkflowSpec) (*models.WorkflowGraph, error) {
	g, err := c.next.UpdateWorkflow(ctx, id, spec)
	return g, c.invalidate(err)
}

func (c *CachedGraphRepository) DeleteWorkflow(ctx context.Context, id string) error {
	return c.invalidate(c.next.DeleteWorkflow(ctx, id))
}

func (c *CachedGraphRepository) DuplicateWorkflow(ctx context.Context, id, newName string) (*models.WorkflowGraph, error) {
	g, err := c.next.DuplicateWorkflow(ctx, id, newName)
	return g, c.invalidate(err)
}

func (c *CachedGraphRepository) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowGraph, error) {
	g, err := c.next.SetActive(ctx, id, active)
	return g, c.invalidate(err)
}

func (c *CachedGraphRepository) GetWorkflowByID(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	return cached(c, "workflow:"+id, func() (*models.WorkflowGraph, error) {
		return c.next.GetWorkflowByID(ctx, id)
	})
}

func (c *CachedGraphRepository) GetWorkflowsByType(ctx context.Context, appType models.ApplicationType) ([]*models.WorkflowGraph, error) {
	return cached(c, "type:"+string(appType), func() ([]*models.WorkflowGraph, error) {
		return c.next.GetWorkflowsByType(ctx, appType)
	})
}

func (c *CachedGraphRepository) GetAllWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowGraph, error) {
	return cached(c, filterKey(filter), func() ([]*models.WorkflowGraph, error) {
		return c.next.GetAllWorkflows(ctx, filter)
	})
}

func (c *CachedGraphRepository) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	return cached(c, "stage:"+id, func() (*models.Stage, error) {
		return c.next.GetStage(ctx, id)
	})
}

func (c *CachedGraphRepository) GetTransition(ctx context.Context, id string) (*models.Transition, error) {
	return cached(c, "transition:"+id, func() (*models.Transition, error) {
		return c.next.GetTransition(ctx, id)
	})
}

func (c *CachedGraphRepository) GetTransitionsForStage(ctx context.Context, stageID string) ([]*models.Transition, error) {
	return cached(c, "from:"+stageID, func() ([]*models.Transition, error) {
		return c.next.GetTransitionsForStage(ctx, stageID)
	})
}

func filterKey(f models.WorkflowFilter) string {
	active := "any"
	if f.Active != nil {
		active = fmt.Sprint(*f.Active)
	}
	return fmt.Sprintf("list:%s:%s:%s:%d:%d", f.ApplicationType, active, f.Name, f.Limit, f.Offset)
}
