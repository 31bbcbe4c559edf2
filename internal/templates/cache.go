// internal/templates/cache.go

// Package templates caches per-job stage templates. Templates change rarely
// and every drop validation needs them, so they are cached in Redis with a
// short TTL and loaded from the backend on miss.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pipeline-engine/internal/common/database"
	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// Loader fetches templates from the source of truth on cache miss.
type Loader interface {
	ListStageTemplates(ctx context.Context, jobID string) ([]models.StageTemplate, error)
}

// Cache is a read-through Redis cache of job stage templates.
type Cache struct {
	redis  *database.RedisClient
	loader Loader
	ttl    time.Duration
	logger logger.Logger
}

// New creates a Cache. When redisClient is nil the cache degrades to a plain
// pass-through loader.
func New(redisClient *database.RedisClient, loader Loader, ttl time.Duration, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Cache{redis: redisClient, loader: loader, ttl: ttl, logger: log}
}

func cacheKey(jobID string) string {
	return fmt.Sprintf("stages:%s", jobID)
}

// Stages returns the templates for a job, serving from Redis when possible.
// A cache read or write failure is logged and falls through to the loader;
// only a loader failure is returned to the caller.
func (c *Cache) Stages(ctx context.Context, jobID string) ([]models.StageTemplate, error) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, cacheKey(jobID))
		if err == nil {
			var templates []models.StageTemplate
			if jsonErr := json.Unmarshal([]byte(raw), &templates); jsonErr == nil {
				return templates, nil
			}
			c.logger.Warn("corrupt template cache entry, reloading", map[string]interface{}{
				"job_id": jobID,
			})
		} else if err != redis.Nil {
			c.logger.WithError(err).Warn("template cache read failed", map[string]interface{}{
				"job_id": jobID,
			})
		}
	}

	templates, err := c.loader.ListStageTemplates(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		payload, _ := json.Marshal(templates)
		if err := c.redis.Set(ctx, cacheKey(jobID), payload, c.ttl); err != nil {
			c.logger.WithError(err).Warn("template cache write failed", map[string]interface{}{
				"job_id": jobID,
			})
		}
	}
	return templates, nil
}

// TemplateAt returns the template with the given order for a job.
func (c *Cache) TemplateAt(ctx context.Context, jobID string, order int) (*models.StageTemplate, error) {
	templates, err := c.Stages(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].Order == order {
			return &templates[i], nil
		}
	}
	return nil, apperrors.NewTemplateNotFoundError(jobID, order)
}

// Invalidate drops the cached entry for a job.
func (c *Cache) Invalidate(ctx context.Context, jobID string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, cacheKey(jobID)); err != nil {
		return apperrors.NewTemplateCacheFailedError(err)
	}
	return nil
}
