package switchboard

import (
	"fmt"
	"html"
	"strings"
)

// Output is the captured result of one activation.
type Output struct {
	WorldID    string
	Operation  string
	Breadcrumb string
	Content    string
	Info       string
	// Failed is set when the operation returned an error or panicked; Content then ends
	// with the rendered error block.
	Failed bool
}

// Breadcrumb renders the navigation trail for a world.
func Breadcrumb(slug, name string) string {
	return fmt.Sprintf("Dashboard &raquo; Servers &raquo; <b>%s</b> (%s)", html.EscapeString(slug), html.EscapeString(name))
}

// HTML joins breadcrumb, content and the side panel into one fragment.
func (o Output) HTML() string {
	var b strings.Builder
	b.WriteString(`<div class="breadcrumb">`)
	b.WriteString(o.Breadcrumb)
	b.WriteString("</div>\n<div class=\"content\">")
	b.WriteString(o.Content)
	b.WriteString("</div>\n")
	if o.Info != "" {
		b.WriteString(`<div class="info">`)
		b.WriteString(o.Info)
		b.WriteString("</div>\n")
	}
	return b.String()
}

func renderError(err error, stack []byte) string {
	return fmt.Sprintf("<div class=\"error\"><p>%s</p><pre>%s</pre></div>",
		html.EscapeString(err.Error()), html.EscapeString(string(stack)))
}
