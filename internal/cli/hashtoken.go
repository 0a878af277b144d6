// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/security"
)

// ErrTokenMismatch is returned when the confirmation differs.
var ErrTokenMismatch = errors.New("tokens do not match")

func newHashTokenCommand(a *app) *cobra.Command {
	var entry config.TokenConfig
	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Hash a bearer token for the [[auth.tokens]] config",
		Long: fmt.Sprintf(`Read a bearer token and print its bcrypt hash.

On a terminal the token is read twice without echo. Otherwise the first line
of standard input is used. Tokens must be at least %d characters.`, security.MinTokenLength),
		Example: `  chatrelay hash-token --owner alice
  echo "$TOKEN" | chatrelay hash-token --owner ci --email ci@example.com`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := security.HashToken(token)
			if err != nil {
				if errors.Is(err, security.ErrTokenTooShort) {
					return &usageError{err: err}
				}
				return err
			}
			entry.Hash = hash
			return printTokenEntry(a.out, a.err, entry)
		},
	}
	cmd.Flags().StringVar(&entry.Owner, "owner", "", "owner id for the generated config entry")
	cmd.Flags().StringVar(&entry.Email, "email", "", "email for the generated config entry")
	return cmd
}

// readToken prompts without echo on a terminal, or reads one line.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		first, err := readSecret(f, prompt, "Token: ")
		if err != nil {
			return "", err
		}
		second, err := readSecret(f, prompt, "Confirm: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", ErrTokenMismatch
		}
		return first, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func readSecret(f *os.File, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	raw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// printTokenEntry prints the hash, or a ready-to-paste [[auth.tokens]]
// block when an owner is given.
func printTokenEntry(out, errOut io.Writer, entry config.TokenConfig) error {
	if entry.Owner == "" {
		fmt.Fprintln(out, entry.Hash)
		return nil
	}

	color.New(color.FgGreen).Fprintln(errOut, "Add this to the [auth] section of your config:")
	block := struct {
		Auth struct {
			Tokens []config.TokenConfig `toml:"tokens"`
		} `toml:"auth"`
	}{}
	block.Auth.Tokens = []config.TokenConfig{entry}
	return toml.NewEncoder(out).Encode(block)
}
