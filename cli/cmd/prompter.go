package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

type huhPrompter struct {
	stdin  io.Reader
	stdout io.Writer
}

func newHuhPrompter(stdin io.Reader, stdout io.Writer) *huhPrompter {
	return &huhPrompter{
		stdin:  stdin,
		stdout: stdout,
	}
}

// Confirm shows the rendered plan and asks whether to overwrite the
// remote state. Declining leaves the resource untouched.
func (h *huhPrompter) Confirm(summary string) (bool, error) {
	fmt.Fprintln(h.stdout, summary)

	var confirmed bool
	field := huh.NewConfirm().
		Title("Apply these changes to the remote platform?").
		Affirmative("Apply").
		Negative("Skip").
		Value(&confirmed)

	form := huh.NewForm(huh.NewGroup(field)).
		WithShowHelp(false).
		WithInput(h.stdin).
		WithOutput(h.stdout)
	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}

// stdinIsTerminal reports whether interactive prompting is possible at
// all; piped input silently degrades to non-interactive mode.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
