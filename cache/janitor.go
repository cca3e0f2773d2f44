package cache

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-eventflow"
)

// Janitor sweeps expired entries on a cron schedule.
type Janitor struct {
	cache  *Cache
	croner *cron.Cron
	logger eventflow.Logger
}

// NewJanitor builds a janitor for the cache. Start it with Run.
func NewJanitor(c *Cache, logger eventflow.Logger) *Janitor {
	return &Janitor{
		cache:  c,
		logger: eventflow.NormalizeLogger(logger),
	}
}

// Run schedules sweeps on the given cron spec (e.g. "@every 1m").
func (j *Janitor) Run(spec string) error {
	if j.cache == nil {
		return eventflow.CloneError(eventflow.ErrPreconditionFailed, "janitor requires a cache", nil, nil)
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, j.sweep); err != nil {
		return eventflow.CloneError(
			eventflow.ErrConfigurationInvalid,
			fmt.Sprintf("invalid janitor schedule %q", spec),
			err,
			nil,
		)
	}
	j.croner = c
	c.Start()
	return nil
}

// Stop halts scheduled sweeps.
func (j *Janitor) Stop() {
	if j.croner != nil {
		j.croner.Stop()
		j.croner = nil
	}
}

func (j *Janitor) sweep() {
	defer eventflow.MakePanicHandler(eventflow.LoggerPanicLogger(j.logger))("cache janitor sweep")
	if n := j.cache.Sweep(); n > 0 {
		j.logger.Debug("cache janitor evicted=%d", n)
	}
}
