package tasks

import (
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

const (
	mimeCSS  = "text/css"
	mimeHTML = "text/html"
	mimeSVG  = "image/svg+xml"
)

// newMinifier registers the formats the pipeline emits. Inline scripts and
// styles inside HTML are minified through the same instance.
func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(mimeCSS, css.Minify)
	m.AddFunc(mimeHTML, html.Minify)
	m.AddFunc(mimeSVG, svg.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}
