// Package registry holds the detection engines that loaded at startup. It is
// built once and read-only afterwards, so lookups need no locking.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"veil/internal/detect"
)

// Registry maps each engine kind to its loaded instance, or nil.
type Registry struct {
	engines  [detect.KindCount]detect.Engine
	loadErrs [detect.KindCount]error
}

// Loaders lists the constructor for every enabled engine. Kinds without a
// loader are treated as disabled.
type Loaders map[detect.Kind]detect.Loader

// Load runs every loader in kind order. A failing or panicking loader only
// marks its own engine unavailable.
func Load(ctx context.Context, loaders Loaders, log zerolog.Logger) *Registry {
	r := &Registry{}
	for _, k := range detect.Kinds() {
		loader, ok := loaders[k]
		if !ok || loader == nil {
			r.loadErrs[k] = fmt.Errorf("%s disabled", k)
			continue
		}
		start := time.Now()
		eng, err := safeLoad(ctx, loader)
		if err == nil && eng == nil {
			err = fmt.Errorf("%s loader returned no engine", k)
		}
		if err == nil && eng.Kind() != k {
			err = fmt.Errorf("%s loader returned a %s engine", k, eng.Kind())
		}
		if err != nil {
			r.loadErrs[k] = err
			log.Warn().Err(err).Str("engine", k.String()).Msg("engine unavailable")
			continue
		}
		r.engines[k] = eng
		log.Info().Str("engine", k.String()).Dur("load_time", time.Since(start)).Msg("engine loaded")
	}
	return r
}

func safeLoad(ctx context.Context, loader detect.Loader) (eng detect.Engine, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			eng, err = nil, fmt.Errorf("loader panic: %v", rec)
		}
	}()
	return loader(ctx)
}

// New builds a registry from already constructed engines. Later engines of
// the same kind replace earlier ones.
func New(engines ...detect.Engine) *Registry {
	r := &Registry{}
	for _, e := range engines {
		if e != nil && e.Kind().Valid() {
			r.engines[e.Kind()] = e
		}
	}
	return r
}

// Get returns the engine of kind k if it loaded.
func (r *Registry) Get(k detect.Kind) (detect.Engine, bool) {
	if r == nil || !k.Valid() || r.engines[k] == nil {
		return nil, false
	}
	return r.engines[k], true
}

func (r *Registry) Available(k detect.Kind) bool {
	_, ok := r.Get(k)
	return ok
}

// Engines returns the loaded engines in kind order.
func (r *Registry) Engines() []detect.Engine {
	out := make([]detect.Engine, 0, detect.KindCount)
	if r == nil {
		return out
	}
	for _, e := range r.engines {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// ModelsLoaded reports availability for every known kind.
func (r *Registry) ModelsLoaded() map[string]bool {
	out := make(map[string]bool, detect.KindCount)
	for _, k := range detect.Kinds() {
		out[k.String()] = r.Available(k)
	}
	return out
}

// LoadError returns why kind k is unavailable, or nil when it loaded.
func (r *Registry) LoadError(k detect.Kind) error {
	if r == nil || !k.Valid() {
		return nil
	}
	return r.loadErrs[k]
}

// Close releases engines that hold resources.
func (r *Registry) Close() error {
	var firstErr error
	for _, e := range r.Engines() {
		if c, ok := e.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
