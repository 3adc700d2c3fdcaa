// Package prompt asks the operator questions during bootstrap.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when a question needs a terminal and there is none.
var ErrNotInteractive = errors.New("no terminal available to ask the question (pass --user to preselect)")

// Terminal reads answers line by line from In and writes questions to Out.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	// AllowNonInteractive accepts answers from a pipe or file on stdin.
	AllowNonInteractive bool

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminal prompts on the process's stdin and stderr.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

// Ask prints "question [suggestion]: " and returns the trimmed answer.
func (t *Terminal) Ask(question, suggestion string) (string, error) {
	if err := t.checkInteractive(); err != nil {
		return "", err
	}

	t.once.Do(func() {
		t.reader = bufio.NewReader(t.input())
	})

	out := t.Out
	if out == nil {
		out = os.Stderr
	}
	if suggestion != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, suggestion)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	line, err := t.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read answer: %w", io.ErrUnexpectedEOF)
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (t *Terminal) input() io.Reader {
	if t.In == nil {
		return os.Stdin
	}
	return t.In
}

func (t *Terminal) checkInteractive() error {
	if t.AllowNonInteractive {
		return nil
	}
	f, ok := t.input().(*os.File)
	if !ok {
		return nil
	}
	if !term.IsTerminal(int(f.Fd())) {
		return ErrNotInteractive
	}
	return nil
}

// Fixed answers from a script, in order. It is used when the operator
// preselects answers on the command line.
type Fixed struct {
	Answers []string

	// Repeat keeps returning the last answer once the script is used up.
	Repeat bool

	mu   sync.Mutex
	next int
}

// Ask returns the next scripted answer.
func (f *Fixed) Ask(question, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next >= len(f.Answers) {
		if f.Repeat && len(f.Answers) > 0 {
			return f.Answers[len(f.Answers)-1], nil
		}
		return "", fmt.Errorf("no preselected answer left for %q", question)
	}
	answer := f.Answers[f.next]
	f.next++
	return answer, nil
}
