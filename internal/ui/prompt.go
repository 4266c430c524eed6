package ui

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nace/volcrypt/internal/system"
	"golang.org/x/term"
)

// ErrPasswordMismatch is returned when a confirmation differs.
var ErrPasswordMismatch = errors.New("passphrases don't match")

// PromptString prompts for a string input
func PromptString(prompt string) string {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// PromptConfirm prompts for yes/no confirmation
func PromptConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// PromptPassword prompts for a password without echoing. When stdin is not
// a terminal the first line of stdin is used instead.
func PromptPassword(prompt string) (*system.SecureBytes, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ReadPassword(os.Stdin)
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return system.NewSecureBytes(password), nil
}

// PromptNewPassword asks twice and fails unless both entries match.
func PromptNewPassword(prompt string) (*system.SecureBytes, error) {
	password, err := PromptPassword(prompt)
	if err != nil {
		return nil, err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return password, nil
	}

	confirm, err := PromptPassword("Confirm passphrase")
	if err != nil {
		password.Zeroize()
		return nil, err
	}
	defer confirm.Zeroize()

	if !bytes.Equal(password.Bytes(), confirm.Bytes()) {
		password.Zeroize()
		return nil, ErrPasswordMismatch
	}
	return password, nil
}

// ReadPassword reads one line from r, without the line terminator.
func ReadPassword(r io.Reader) (*system.SecureBytes, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, fmt.Errorf("failed to read passphrase: empty input")
	}
	return system.NewSecureBytes(line), nil
}
