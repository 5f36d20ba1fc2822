package engine

import (
	"log/slog"

	"github.com/roach88/blitter/internal/blit"
)

// CacheOp performs cache maintenance on r on behalf of context id.
//
// CacheOp does not touch the arbiter. Every direction except flush_all
// requires r to lie inside a single memory bank; otherwise it fails with
// INVALID_ARGUMENT and the cache is not called. The range is ignored for
// flush_all.
func (e *Engine) CacheOp(id blit.ContextID, r blit.MemRange, dir blit.CacheDirection) error {
	if !dir.Valid() {
		return invalidArgument(id, "unknown cache direction "+dir.String(), nil)
	}

	if dir != blit.CacheFlushAll {
		bank, err := e.memory.Resolve(r)
		if err != nil {
			slog.Debug("cache op rejected", "context", id, "range", r.String(), "error", err)
			return invalidArgument(id, "cache range not backed by memory", err)
		}
		slog.Debug("cache op", "context", id, "dir", dir.String(), "range", r.String(), "bank", bank.Name)
	}

	if err := e.cache.Maintain(r, dir); err != nil {
		slog.Error("cache maintenance failed", "context", id, "dir", dir.String(), "error", err)
		return hardwareFault(id, "", "cache maintenance failed", err)
	}

	e.cacheOps.Add(1)
	e.mu.Lock()
	e.record(KindCache, id, nil, dir.String())
	e.mu.Unlock()
	return nil
}
