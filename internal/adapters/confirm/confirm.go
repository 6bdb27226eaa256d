// Package confirm implements the interactive yes/no prompt.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/marimeireles/mamba/internal/core/ports"
)

// Prompter asks on out and reads the answer from in. An empty answer
// counts as yes.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

var _ ports.Confirmer = (*Prompter)(nil)

// New creates a Prompter. Nil arguments default to stdin and stderr, so
// prompts never mix into report output on stdout.
func New(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s [Y/n] ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true, nil
	}
	return false, nil
}
