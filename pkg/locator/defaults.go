package locator

import (
	"io/fs"

	"github.com/wrogo/wro/pkg/logger"
)

// NewDefaultRegistry registers every built-in scheme. URIs without a scheme
// are looked up below the context root first, then in the classpath.
// A nil classpath disables the classpath: scheme.
func NewDefaultRegistry(contextRoot string, classpath fs.FS, log logger.Logger) *Registry {
	servletContext := NewServletContextLocator(contextRoot)
	url := NewURLLocator(WithURLLogger(log))

	r := NewRegistry(
		WithScheme(SchemeFile, NewFileLocator()),
		WithScheme(SchemeServletContext, servletContext),
		WithScheme(SchemeURL, url),
		WithScheme(SchemeHTTP, url),
		WithScheme(SchemeHTTPS, url),
	)
	if classpath == nil {
		r.fallback = []Locator{servletContext}
		return r
	}

	cp := NewClasspathLocator(classpath)
	r.Register(SchemeClasspath, cp)
	r.fallback = []Locator{servletContext, cp}
	return r
}
