// Package xmlutil escapes memory text placed inside the XML-delimited prompts
// sent to the importance scorer and the context blocks returned over MCP.
package xmlutil

import (
	"encoding/xml"
	"strings"
)

// Tag wraps content in <name>…</name>, escaping the content. name is trusted.
func Tag(name, content string) string {
	var b strings.Builder
	b.Grow(len(name)*2 + len(content) + 5)
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	writeEscaped(&b, content)
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
	return b.String()
}

// Escape returns s with XML markup characters and control whitespace escaped.
// Invalid UTF-8 is replaced with U+FFFD.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	writeEscaped(&b, s)
	return b.String()
}

// writeEscaped appends the escaped form of s. Writes to a strings.Builder
// cannot fail, so the EscapeText error is always nil.
func writeEscaped(b *strings.Builder, s string) {
	_ = xml.EscapeText(b, []byte(s))
}
