package xmlutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Modzer0/Brain-sub000/pkg/xmlutil"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"markup", `<b>"x" & 'y'</b>`, "&lt;b&gt;&#34;x&#34; &amp; &#39;y&#39;&lt;/b&gt;"},
		{"closing tag injection", "</memory><memory>", "&lt;/memory&gt;&lt;memory&gt;"},
		{"newline", "a\nb", "a&#xA;b"},
		{"invalid utf8", "a\xffb", "a�b"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, xmlutil.Escape(tt.in))
		})
	}
}

func TestTag(t *testing.T) {
	assert.Equal(t, "<memory>a &lt; b</memory>", xmlutil.Tag("memory", "a < b"))
	assert.Equal(t, "<tags></tags>", xmlutil.Tag("tags", ""))
}
