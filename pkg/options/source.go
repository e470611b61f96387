package options

import (
	"sync"
	"sync/atomic"
)

// Property names one configuration option. Each property is a notification
// channel on a Source.
type Property string

const (
	PropertyDebug                  Property = "debug"
	PropertyDisableCache           Property = "disableCache"
	PropertyEncoding               Property = "encoding"
	PropertyModelUpdatePeriod      Property = "modelUpdatePeriod"
	PropertyCacheUpdatePeriod      Property = "cacheUpdatePeriod"
	PropertyModelLoadTimeout       Property = "modelLoadTimeout"
	PropertyEnginePoolSize         Property = "enginePoolSize"
	PropertyEnginePoolTimeout      Property = "enginePoolTimeout"
	PropertyBuildWaitTimeout       Property = "buildWaitTimeout"
	PropertyGraceMode              Property = "graceMode"
	PropertyPreProcessors          Property = "preProcessors"
	PropertyPostProcessors         Property = "postProcessors"
	PropertyParallelPreprocessing  Property = "parallelPreprocessing"
	PropertyMaxParallelism         Property = "maxParallelism"
	PropertyIgnoreMissingResources Property = "ignoreMissingResources"
	PropertyGzipEnabled            Property = "gzipEnabled"
	PropertyHeader                 Property = "header"
	PropertyAdminEnabled           Property = "adminEnabled"
	PropertyCacheStrategy          Property = "cacheStrategy"
	PropertyCacheMaxEntries        Property = "cacheMaxEntries"
)

// Properties lists every property in declaration order.
var Properties = []Property{
	PropertyDebug, PropertyDisableCache, PropertyEncoding,
	PropertyModelUpdatePeriod, PropertyCacheUpdatePeriod, PropertyModelLoadTimeout,
	PropertyEnginePoolSize, PropertyEnginePoolTimeout, PropertyBuildWaitTimeout, PropertyGraceMode,
	PropertyPreProcessors, PropertyPostProcessors,
	PropertyParallelPreprocessing, PropertyMaxParallelism, PropertyIgnoreMissingResources,
	PropertyGzipEnabled, PropertyHeader, PropertyAdminEnabled,
	PropertyCacheStrategy, PropertyCacheMaxEntries,
}

// Value returns the value of the given property, or nil for an unknown one.
func (o Options) Value(p Property) any {
	switch p {
	case PropertyDebug:
		return o.Debug
	case PropertyDisableCache:
		return o.DisableCache
	case PropertyEncoding:
		return o.Encoding
	case PropertyModelUpdatePeriod:
		return o.ModelUpdatePeriod
	case PropertyCacheUpdatePeriod:
		return o.CacheUpdatePeriod
	case PropertyModelLoadTimeout:
		return o.ModelLoadTimeout
	case PropertyEnginePoolSize:
		return o.EnginePoolSize
	case PropertyEnginePoolTimeout:
		return o.EnginePoolTimeout
	case PropertyBuildWaitTimeout:
		return o.BuildWaitTimeout
	case PropertyGraceMode:
		return o.GraceMode
	case PropertyPreProcessors:
		return o.PreProcessors
	case PropertyPostProcessors:
		return o.PostProcessors
	case PropertyParallelPreprocessing:
		return o.ParallelPreprocessing
	case PropertyMaxParallelism:
		return o.MaxParallelism
	case PropertyIgnoreMissingResources:
		return o.IgnoreMissingResources
	case PropertyGzipEnabled:
		return o.GzipEnabled
	case PropertyHeader:
		return o.Header
	case PropertyAdminEnabled:
		return o.AdminEnabled
	case PropertyCacheStrategy:
		return o.CacheStrategy
	case PropertyCacheMaxEntries:
		return o.CacheMaxEntries
	default:
		return nil
	}
}

// Diff returns the properties whose values differ between o and other.
func (o Options) Diff(other Options) []Property {
	var changed []Property
	for _, p := range Properties {
		if o.Value(p) != other.Value(p) {
			changed = append(changed, p)
		}
	}
	return changed
}

// Listener is invoked with the previous and the new snapshot.
type Listener func(old, current Options)

type subscription struct {
	id       uint64
	listener Listener
}

// Source provides the current options and notifies subscribers of changes.
// Get is lock free. Listeners run synchronously on the goroutine calling
// Update, after the new snapshot is visible; they must not call Update.
type Source struct {
	current atomic.Pointer[Options]

	updateMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	listeners map[Property][]subscription
}

// NewSource creates a source holding the given initial options.
func NewSource(initial Options) *Source {
	s := &Source{listeners: make(map[Property][]subscription)}
	s.current.Store(&initial)
	return s
}

// Get returns the current snapshot.
func (s *Source) Get() Options {
	return *s.current.Load()
}

// Subscribe registers fn on the channel of property p. The returned function
// removes the subscription.
func (s *Source) Subscribe(p Property, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[p] = append(s.listeners[p], subscription{id: id, listener: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.listeners[p]
		for i, sub := range subs {
			if sub.id == id {
				s.listeners[p] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Update publishes next and fires the listeners of every changed property,
// in property declaration order. It returns the changed properties.
func (s *Source) Update(next Options) []Property {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	previous := *s.current.Load()
	changed := previous.Diff(next)
	if len(changed) == 0 {
		return nil
	}
	s.current.Store(&next)

	for _, p := range changed {
		s.mu.Lock()
		subs := append([]subscription(nil), s.listeners[p]...)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.listener(previous, next)
		}
	}
	return changed
}
