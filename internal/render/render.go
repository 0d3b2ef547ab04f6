package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/tyemirov/linebreaks/pkg/linebreaks"
)

// Mode selects how a source document is turned into HTML.
type Mode string

const (
	// ModeText converts blank-line separated text into paragraphs, keeping <pre> blocks verbatim.
	ModeText Mode = "text"
	// ModeMarkdown renders GitHub flavored Markdown.
	ModeMarkdown Mode = "markdown"

	highlightStyleName   = "github"
	documentTemplateName = "document"
	documentTemplate     = `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>{{ .Title }}</title>` +
		`{{ if .Stylesheet }}<style>{{ .Stylesheet }}</style>{{ end }}</head><body>` +
		`{{ if .PlainText }}{{ linebreaks_ignoring_pre .Source }}{{ else }}{{ .Body }}{{ end }}</body></html>`
)

// ErrUnsupportedMode is returned for mode names and file types without a renderer.
var ErrUnsupportedMode = errors.New("unsupported render mode")

var modeByExtension = map[string]Mode{
	".txt":      ModeText,
	".text":     ModeText,
	".md":       ModeMarkdown,
	".markdown": ModeMarkdown,
}

// ParseMode validates a mode name such as "text" or "Markdown".
func ParseMode(rawValue string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(rawValue))) {
	case ModeText, "txt", "plain":
		return ModeText, nil
	case ModeMarkdown, "md":
		return ModeMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMode, rawValue)
	}
}

// ModeForPath resolves the mode from a file extension.
func ModeForPath(filePath string) (Mode, bool) {
	mode, found := modeByExtension[strings.ToLower(filepath.Ext(filePath))]
	return mode, found
}

type documentData struct {
	Title      string
	Stylesheet template.CSS
	PlainText  bool
	Source     string
	Body       template.HTML
}

// Renderer converts text and Markdown sources into HTML fragments and documents.
// A Renderer is safe for concurrent use.
type Renderer struct {
	markdownConverter  goldmark.Markdown
	documentTemplate   *template.Template
	markdownStylesheet template.CSS
}

// NewRenderer builds a Renderer with the shared Markdown and document configuration.
func NewRenderer() (*Renderer, error) {
	parsedTemplate, parseErr := template.New(documentTemplateName).Funcs(linebreaks.FuncMap()).Parse(documentTemplate)
	if parseErr != nil {
		return nil, fmt.Errorf("parse document template: %w", parseErr)
	}
	var stylesheet bytes.Buffer
	cssFormatter := chromahtml.New(chromahtml.WithClasses(true))
	if cssErr := cssFormatter.WriteCSS(&stylesheet, styles.Get(highlightStyleName)); cssErr != nil {
		return nil, fmt.Errorf("write highlight stylesheet: %w", cssErr)
	}
	return &Renderer{
		markdownConverter: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
				),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		documentTemplate:   parsedTemplate,
		markdownStylesheet: template.CSS(stylesheet.String()),
	}, nil
}

// Fragment renders source as an HTML body fragment.
func (renderer *Renderer) Fragment(mode Mode, source []byte) ([]byte, error) {
	switch mode {
	case ModeText:
		return []byte(linebreaks.IgnoringPre(string(source))), nil
	case ModeMarkdown:
		var buffer bytes.Buffer
		if convertErr := renderer.markdownConverter.Convert(source, &buffer); convertErr != nil {
			return nil, fmt.Errorf("convert markdown: %w", convertErr)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
}

// Document renders source as a standalone HTML5 page titled title.
func (renderer *Renderer) Document(mode Mode, title string, source []byte) ([]byte, error) {
	data := documentData{Title: title}
	switch mode {
	case ModeText:
		data.PlainText = true
		data.Source = string(source)
	case ModeMarkdown:
		fragment, fragmentErr := renderer.Fragment(mode, source)
		if fragmentErr != nil {
			return nil, fragmentErr
		}
		data.Body = template.HTML(fragment)
		data.Stylesheet = renderer.markdownStylesheet
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	var buffer bytes.Buffer
	if executeErr := renderer.documentTemplate.Execute(&buffer, data); executeErr != nil {
		return nil, fmt.Errorf("execute document template: %w", executeErr)
	}
	return buffer.Bytes(), nil
}

// TitleFromPath derives a document title from a file name without its extension.
func TitleFromPath(filePath string) string {
	baseName := filepath.Base(filePath)
	return strings.TrimSuffix(baseName, filepath.Ext(baseName))
}
