package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownProcessor is returned when an alias has no registration.
	ErrUnknownProcessor = errors.New("unknown processor")

	ErrDuplicateAlias = errors.New("processor alias already registered")
)

// Named is a processor instance with the alias it was resolved from.
type Named[P any] struct {
	Alias     string
	Processor P
}

// Target returns the processor behind any policy wrapper, for policy checks
// and injection.
func (n Named[P]) Target() any {
	return unwrap(n.Processor)
}

// Registry maps aliases to processor factories. Pre- and post-processors
// live in separate namespaces so that one alias may name both.
type Registry struct {
	mu   sync.RWMutex
	pre  map[string]func() PreProcessor
	post map[string]func() PostProcessor
}

func NewRegistry() *Registry {
	return &Registry{
		pre:  make(map[string]func() PreProcessor),
		post: make(map[string]func() PostProcessor),
	}
}

// RegisterPre registers a pre-processor factory under alias.
func (r *Registry) RegisterPre(alias string, factory func() PreProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pre[alias]; ok {
		return fmt.Errorf("%w: pre-processor '%s'", ErrDuplicateAlias, alias)
	}
	r.pre[alias] = factory
	return nil
}

// RegisterPost registers a post-processor factory under alias.
func (r *Registry) RegisterPost(alias string, factory func() PostProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.post[alias]; ok {
		return fmt.Errorf("%w: post-processor '%s'", ErrDuplicateAlias, alias)
	}
	r.post[alias] = factory
	return nil
}

// MustRegisterPre is RegisterPre that panics on a duplicate alias.
func (r *Registry) MustRegisterPre(alias string, factory func() PreProcessor) {
	if err := r.RegisterPre(alias, factory); err != nil {
		panic(err)
	}
}

// MustRegisterPost is RegisterPost that panics on a duplicate alias.
func (r *Registry) MustRegisterPost(alias string, factory func() PostProcessor) {
	if err := r.RegisterPost(alias, factory); err != nil {
		panic(err)
	}
}

// ParseAliases splits a comma separated alias list. Whitespace is trimmed
// and empty entries are dropped.
func ParseAliases(list string) []string {
	var aliases []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	return aliases
}

// ResolvePre creates the pre-processors named by list, in order. A repeated
// alias yields one instance per occurrence.
func (r *Registry) ResolvePre(list string) ([]Named[PreProcessor], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []Named[PreProcessor]
	for _, alias := range ParseAliases(list) {
		factory, ok := r.pre[alias]
		if !ok {
			return nil, fmt.Errorf("%w: pre-processor '%s'", ErrUnknownProcessor, alias)
		}
		chain = append(chain, Named[PreProcessor]{Alias: alias, Processor: factory()})
	}
	return chain, nil
}

// ResolvePost creates the post-processors named by list, in order.
func (r *Registry) ResolvePost(list string) ([]Named[PostProcessor], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []Named[PostProcessor]
	for _, alias := range ParseAliases(list) {
		factory, ok := r.post[alias]
		if !ok {
			return nil, fmt.Errorf("%w: post-processor '%s'", ErrUnknownProcessor, alias)
		}
		chain = append(chain, Named[PostProcessor]{Alias: alias, Processor: factory()})
	}
	return chain, nil
}

// Aliases returns the registered pre- and post-processor aliases, sorted.
func (r *Registry) Aliases() (pre []string, post []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for a := range r.pre {
		pre = append(pre, a)
	}
	for a := range r.post {
		post = append(post, a)
	}
	sort.Strings(pre)
	sort.Strings(post)
	return pre, post
}
