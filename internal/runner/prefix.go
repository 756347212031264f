package runner

import (
	"bytes"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/lipgloss"
)

var prefixColors = []lipgloss.Color{"6", "3", "5", "2", "4", "1"}

// ProjectStyle returns the style used for a project's output prefix. The
// color is derived from the project name so it is stable across runs.
func ProjectStyle(project string) lipgloss.Style {
	c := prefixColors[xxhash.Sum64String(project)%uint64(len(prefixColors))]
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

// ProjectPrefix renders "[project] " with style.
func ProjectPrefix(project string, style lipgloss.Style) string {
	return style.Render("["+project+"]") + " "
}

type linePrefixer struct {
	w           io.Writer
	prefix      []byte
	atLineStart bool
}

// NewLinePrefixer returns a writer that writes prefix at the start of every
// line passing through it. A line split across writes is prefixed once.
func NewLinePrefixer(w io.Writer, prefix string) io.Writer {
	return &linePrefixer{w: w, prefix: []byte(prefix), atLineStart: true}
}

func (p *linePrefixer) Write(b []byte) (int, error) {
	n := len(b)
	var buf bytes.Buffer
	for len(b) > 0 {
		if p.atLineStart {
			buf.Write(p.prefix)
			p.atLineStart = false
		}
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			buf.Write(b)
			break
		}
		buf.Write(b[:i+1])
		b = b[i+1:]
		p.atLineStart = true
	}
	if _, err := p.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}
