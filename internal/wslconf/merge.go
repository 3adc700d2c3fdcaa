package wslconf

import (
	"fmt"
	"regexp"
)

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

// InvalidUsernameError is returned for names that may not be written into the
// configuration file.
type InvalidUsernameError struct {
	Name string
}

func (e *InvalidUsernameError) Error() string {
	return fmt.Sprintf("invalid username %q: must match %s", e.Name, usernamePattern.String())
}

// ValidateUsername rejects anything that is not a plain lowercase login name.
func ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return &InvalidUsernameError{Name: name}
	}
	return nil
}

// SetDefaultUser makes name the only default= entry of the [user] section.
//
// The first [user] section receives the entry: its first default= line is
// rewritten in place, later default= lines in any [user] section are dropped,
// and when it has none the entry is appended as its last line. Without a
// [user] section, a blank line, the header and the entry are appended to the
// document. Lines outside [user] are never touched, including default= lines
// in other sections.
func (d *Document) SetDefaultUser(name string) error {
	if err := ValidateUsername(name); err != nil {
		return err
	}

	entry := Line{Raw: DefaultKey + "=" + name}
	replaced := false

	for _, section := range d.Sections {
		if !section.IsUser() {
			continue
		}

		kept := make([]Line, 0, len(section.Lines)+1)
		for _, line := range section.Lines {
			if !line.IsDefaultKey() {
				kept = append(kept, line)
				continue
			}
			if !replaced {
				kept = append(kept, entry)
				replaced = true
			}
		}
		if !replaced {
			kept = append(kept, entry)
			replaced = true
		}
		section.Lines = kept
	}

	if replaced {
		return nil
	}

	if d.IsEmpty() {
		d.Sections = append(d.Sections, &Section{
			Header: "[" + UserSection + "]",
			Lines:  []Line{entry},
		})
		return nil
	}

	d.appendBlankLine()
	d.Sections = append(d.Sections, &Section{
		Header: "[" + UserSection + "]",
		Lines:  []Line{entry},
	})
	return nil
}

// DefaultUsers returns every default= value found in [user] sections, in order.
func (d *Document) DefaultUsers() []string {
	users := []string{}
	for _, section := range d.Sections {
		if !section.IsUser() {
			continue
		}
		for _, line := range section.Lines {
			if line.IsDefaultKey() {
				users = append(users, line.Value())
			}
		}
	}
	return users
}

func (d *Document) appendBlankLine() {
	blank := Line{}
	if n := len(d.Sections); n > 0 {
		last := d.Sections[n-1]
		last.Lines = append(last.Lines, blank)
		return
	}
	d.Preamble = append(d.Preamble, blank)
}

// Merge returns content rewritten so that name is the default user. Empty or
// nil content yields a fresh file holding only the [user] section.
func Merge(content []byte, name string) ([]byte, error) {
	doc, err := ParseBytes(content)
	if err != nil {
		return nil, err
	}
	if err := doc.SetDefaultUser(name); err != nil {
		return nil, err
	}
	return doc.Bytes(), nil
}
