package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

// CatalogueCache holds the immutable attack/ability catalogue. It is loaded
// on first use and kept until Invalidate; concurrent misses share one load.
type CatalogueCache struct {
	repo  repository.CatalogueRepository
	group singleflight.Group

	mu  sync.RWMutex
	cat *battle.Catalogue
	gen uint64 // bumped by Invalidate
}

// NewCatalogueCache creates a CatalogueCache.
func NewCatalogueCache(repo repository.CatalogueRepository) *CatalogueCache {
	return &CatalogueCache{repo: repo}
}

// Get returns the cached catalogue, loading it if needed. Load failures are
// not cached. A caller whose ctx ends stops waiting; the shared load carries
// on for the others.
func (c *CatalogueCache) Get(ctx context.Context) (*battle.Catalogue, error) {
	c.mu.RLock()
	cat, gen := c.cat, c.gen
	c.mu.RUnlock()
	if cat != nil {
		return cat, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("catalogue", func() (any, error) {
		return c.load(loadCtx, gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*battle.Catalogue), nil
	}
}

func (c *CatalogueCache) load(ctx context.Context, gen uint64) (*battle.Catalogue, error) {
	attacks, abilities, err := c.repo.LoadCatalogue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	cat, err := battle.NewCatalogue(attacks, abilities)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.gen == gen {
		c.cat = cat
	}
	c.mu.Unlock()
	return cat, nil
}

// Invalidate drops the cached catalogue; the next Get reloads it. A load
// already in flight is not stored.
func (c *CatalogueCache) Invalidate() {
	c.mu.Lock()
	c.cat = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget("catalogue")
}
