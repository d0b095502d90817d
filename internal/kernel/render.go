package kernel

import (
	"fmt"
	"regexp"
	"strings"
)

// OutputTarget is the rendering destination recorded for a request: an opaque
// view handle plus the insertion point inline fragments anchor to.
type OutputTarget struct {
	Handle string
	Pos    int
}

// Renderer receives rendered kernel output. Append and block-level calls go
// to the dedicated output surface; inline calls anchor at an OutputTarget.
type Renderer interface {
	AppendText(text string)
	ShowBlockContent(html string)
	ShowBlockImage(base64Data string)
	ShowInlineContent(html string, target OutputTarget)
	ShowInlineImage(base64Data string, target OutputTarget)
	ShowPanel(text string)
}

// Prompter collects user input for kernel-initiated input requests. Both
// calls complete asynchronously through the answer callback; the interrupt
// callback fires if the user aborts the prompt instead.
type Prompter interface {
	PromptText(prompt string, onAnswer func(string), onInterrupt func())
	PromptPassword(prompt string, onAnswer func(string), onInterrupt func())
}

// ansiEscapePattern matches the color escape sequences kernels embed in
// tracebacks and rich text output.
var ansiEscapePattern = regexp.MustCompile("\x1b[^m]*m")

// RemoveANSIEscape strips ANSI escape sequences from text before display.
func RemoveANSIEscape(text string) string {
	return ansiEscapePattern.ReplaceAllString(text, "")
}

// FixWhitespaceForHTML transforms plain text for inline HTML display.
// Spaces and newlines are preserved explicitly so tabular output such as
// DataFrames keeps its alignment.
func FixWhitespaceForHTML(text string) string {
	text = strings.ReplaceAll(text, " ", "&nbsp;")
	return strings.Join(strings.Split(text, "\n"), "<br>")
}

const textFragmentTemplate = `<body id="helium-result">
  <style>
    .stdout { color: color(var(--foreground) alpha(0.7)) }
    .error { color: var(--redish) }
    .other { color: var(--yellowish) }
    .closebutton { text-decoration: none }
  </style>
  <a class=closebutton href=hide>×</a>
  %s
</body>`

const imageFragmentTemplate = `<body id="helium-image-result" style="background-color:white">
  <style>
    .image { background-color: white }
    .closebutton { text-decoration: none }
  </style>
  <a class=closebutton href=hide>×</a>
  <br>
  <img class="image" alt="Out" src="data:image/png;base64,%s" />
</body>`

// streamFragment wraps stream content in a class-named div so stdout and
// stderr can be styled differently.
func streamFragment(name, content string) string {
	return fmt.Sprintf("<div class=%s>%s</div>", name, content)
}

// TextFragment wraps content in the standard inline result body.
func TextFragment(content string) string {
	return fmt.Sprintf(textFragmentTemplate, content)
}

// ImageFragment wraps a base64 PNG payload in the inline image body.
func ImageFragment(data string) string {
	return fmt.Sprintf(imageFragmentTemplate, data)
}

// BlockImageHTML is the block-level wrapper for a base64 PNG payload.
func BlockImageHTML(data string) string {
	return fmt.Sprintf(`<body style="background-color:white"><img alt="Out" src="data:image/png;base64,%s" /></body>`, data)
}
