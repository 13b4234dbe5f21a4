package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"golang.org/x/term"
)

const (
	// passwordEnv holds the vault password for non-interactive use.
	passwordEnv = "MEDIAVAULT_PASSWORD"
	// newPasswordEnv holds the replacement password for passwd.
	newPasswordEnv = "MEDIAVAULT_NEW_PASSWORD"
)

var errNoTerminal = errors.New("no terminal to prompt for a password")

// readPassword returns the password from the environment or prompts for it.
// The caller owns the returned bytes.
func readPassword(prompt string) ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	return prompt1(prompt)
}

// readNewPassword returns the value of env, or prompts twice.
func readNewPassword(env string) ([]byte, error) {
	if pw, ok := os.LookupEnv(env); ok {
		return []byte(pw), nil
	}
	first, err := prompt1("New password: ")
	if err != nil {
		return nil, err
	}
	second, err := prompt1("Repeat password: ")
	if err != nil {
		memguard.WipeBytes(first)
		return nil, err
	}
	defer memguard.WipeBytes(second)
	if !bytes.Equal(first, second) {
		memguard.WipeBytes(first)
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}

// prompt1 reads one line from the terminal without echo.
func prompt1(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w; set %s", errNoTerminal, passwordEnv)
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // New line after password
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return password, nil
}
