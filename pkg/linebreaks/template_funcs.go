package linebreaks

import (
	"fmt"
	"html/template"
)

const (
	// FilterNameIgnoringPre is the template function name for IgnoringPre.
	FilterNameIgnoringPre = "linebreaks_ignoring_pre"
	// FilterNameLinebreaks is the template function name for ToHTMLParagraphs.
	FilterNameLinebreaks = "linebreaks"
)

// FuncMap returns the template functions exposed by this package. Callers
// register it with template.Funcs; the results are typed template.HTML and
// are therefore inserted without escaping.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		FilterNameIgnoringPre: func(value any) template.HTML {
			return template.HTML(IgnoringPre(coerceToString(value)))
		},
		FilterNameLinebreaks: func(value any) template.HTML {
			return template.HTML(ToHTMLParagraphs(coerceToString(value)))
		},
	}
}

func coerceToString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case template.HTML:
		return string(typed)
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}
