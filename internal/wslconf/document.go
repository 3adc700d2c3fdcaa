// Package wslconf reads and rewrites the per-distro WSL configuration file.
//
// The file is modelled as an ordered document: a preamble of lines that appear
// before any section header, followed by bracketed sections that own the lines
// up to the next header. Lines are kept verbatim so that re-serializing an
// unmodified document reproduces its input (modulo a missing final newline).
package wslconf

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// DefaultPath is the location of the configuration file inside a distro.
const DefaultPath = "/etc/wsl.conf"

// UserSection is the name of the section holding the default login user.
const UserSection = "user"

// DefaultKey is the key inside UserSection naming the default login user.
const DefaultKey = "default"

// Line is a single raw line of the file, without its terminating newline.
type Line struct {
	Raw string
}

// Key returns the trimmed key of a key=value line, or "" for anything else.
func (l Line) Key() string {
	trimmed := strings.TrimSpace(l.Raw)
	if trimmed == "" || isComment(trimmed) || isSectionHeader(trimmed) {
		return ""
	}
	key, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(key)
}

// Value returns the trimmed value of a key=value line.
func (l Line) Value() string {
	if l.Key() == "" {
		return ""
	}
	_, value, _ := strings.Cut(l.Raw, "=")
	return strings.TrimSpace(value)
}

// IsDefaultKey reports whether the line assigns the default key.
func (l Line) IsDefaultKey() bool {
	return l.Key() == DefaultKey
}

// Section is a bracketed header and the lines following it.
type Section struct {
	Header string
	Lines  []Line
}

// Name returns the text between the brackets of the header.
func (s *Section) Name() string {
	return sectionName(strings.TrimSpace(s.Header))
}

// IsUser reports whether the header is exactly the [user] header.
func (s *Section) IsUser() bool {
	return strings.TrimSpace(s.Header) == "["+UserSection+"]"
}

// Document is the ordered content of a configuration file.
type Document struct {
	Preamble []Line
	Sections []*Section
}

// Parse reads a configuration file into a Document. It never rejects input:
// anything that is not a section header is kept as an ordinary line.
func Parse(r io.Reader) (*Document, error) {
	if r == nil {
		return nil, errors.New("wslconf: nil reader")
	}

	doc := &Document{}
	var current *Section

	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			raw = strings.TrimSuffix(raw, "\n")
			if isSectionHeader(strings.TrimSpace(raw)) {
				current = &Section{Header: raw}
				doc.Sections = append(doc.Sections, current)
			} else if current != nil {
				current.Lines = append(current.Lines, Line{Raw: raw})
			} else {
				doc.Preamble = append(doc.Preamble, Line{Raw: raw})
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}

	return doc, nil
}

// ParseBytes is Parse for in-memory content.
func ParseBytes(content []byte) (*Document, error) {
	return Parse(bytes.NewReader(content))
}

// Bytes serializes the document, terminating every line with a newline.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for _, line := range d.Preamble {
		buf.WriteString(line.Raw)
		buf.WriteByte('\n')
	}
	for _, section := range d.Sections {
		buf.WriteString(section.Header)
		buf.WriteByte('\n')
		for _, line := range section.Lines {
			buf.WriteString(line.Raw)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Section returns the first section with the given name, or nil.
func (d *Document) Section(name string) *Section {
	for _, section := range d.Sections {
		if section.Name() == name {
			return section
		}
	}
	return nil
}

// IsEmpty reports whether the document holds no lines at all.
func (d *Document) IsEmpty() bool {
	return len(d.Preamble) == 0 && len(d.Sections) == 0
}

// isSectionHeader accepts "[name]" optionally followed by a # or ; comment.
func isSectionHeader(trimmed string) bool {
	_, ok := parseHeader(trimmed)
	return ok
}

func isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";")
}

func sectionName(trimmedHeader string) string {
	name, _ := parseHeader(trimmedHeader)
	return name
}

func parseHeader(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "[") {
		return "", false
	}
	end := strings.IndexByte(trimmed, ']')
	if end < 0 {
		return "", false
	}
	if rest := strings.TrimSpace(trimmed[end+1:]); rest != "" && !isComment(rest) {
		return "", false
	}
	return strings.TrimSpace(trimmed[1:end]), true
}
