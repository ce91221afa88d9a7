package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptLine reads a single line of input, used for the email prompt. Reads
// go through the invocation-wide buffered reader so consecutive prompts
// consume consecutive lines of piped input.
func (a *app) promptLine(label string) (string, error) {
	fmt.Fprintf(a.stdout, "%s: ", label)

	line, err := a.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echoing when stdin is a terminal.
// Piped input falls back to a plain line read so scripts still work.
func (a *app) promptPassword(label string) (string, error) {
	f, ok := a.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return a.promptLine(label)
	}

	fmt.Fprintf(a.stdout, "%s: ", label)
	raw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.stdout)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(raw)), nil
}
