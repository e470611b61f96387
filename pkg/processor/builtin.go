package processor

import (
	"context"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/wrogo/wro/pkg/resource"
)

const (
	AliasCSSMin            = "cssMin"
	AliasJSMin             = "jsMin"
	AliasCSSLint           = "cssLint"
	AliasJSLint            = "jsLint"
	AliasSemicolonAppender = "semicolonAppender"
	AliasStripComments     = "stripComments"
)

var minifier = newMinifier()

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(resource.TypeCSS.ContentType(), css.Minify)
	m.AddFunc(resource.TypeJS.ContentType(), js.Minify)
	return m
}

type minifyBase struct {
	typ resource.Type
}

func (m minifyBase) SupportedTypes() []resource.Type { return []resource.Type{m.typ} }

func (m minifyBase) Minimize() bool { return true }

func (m minifyBase) minify(input string) (string, error) {
	return minifier.String(m.typ.ContentType(), input)
}

// MinifyPre minifies one resource.
type MinifyPre struct{ minifyBase }

func (m MinifyPre) Process(_ context.Context, _ resource.Resource, input string) (string, error) {
	return m.minify(input)
}

// MinifyPost minifies a whole bundle.
type MinifyPost struct{ minifyBase }

func (m MinifyPost) Process(_ context.Context, _ resource.CacheKey, input string) (string, error) {
	return m.minify(input)
}

func NewMinifyPre(typ resource.Type) MinifyPre {
	return MinifyPre{minifyBase{typ: typ}}
}

func NewMinifyPost(typ resource.Type) MinifyPost {
	return MinifyPost{minifyBase{typ: typ}}
}

// SemicolonAppender terminates a script with a semicolon so that
// concatenated scripts cannot merge statements.
type SemicolonAppender struct{}

func (SemicolonAppender) SupportedTypes() []resource.Type { return []resource.Type{resource.TypeJS} }

func (SemicolonAppender) Process(_ context.Context, _ resource.Resource, input string) (string, error) {
	trimmed := strings.TrimRight(input, " \t\r\n")
	if trimmed == "" || strings.HasSuffix(trimmed, ";") {
		return input, nil
	}
	return trimmed + ";", nil
}

// StripComments removes /* */ block comments outside of string literals.
type StripComments struct{}

func (StripComments) Process(_ context.Context, _ resource.Resource, input string) (string, error) {
	return stripBlockComments(input), nil
}

// StripCommentsPost removes block comments from a whole bundle.
type StripCommentsPost struct{}

func (StripCommentsPost) Process(_ context.Context, _ resource.CacheKey, input string) (string, error) {
	return stripBlockComments(input), nil
}

func stripBlockComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			// line comments are kept, but quotes inside them must not open a literal
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s) - i
			}
			b.WriteString(s[i : i+end])
			i += end - 1
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
