package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/floegence/repopilot/internal/config"
	"github.com/floegence/repopilot/internal/settings"
)

func secretCmd(args []string) {
	fs := flag.NewFlagSet("secret", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 || rest[0] != "set" {
		printUsage()
		os.Exit(2)
	}
	store := settings.NewSecretsStore(config.SecretsPath(*cfgPath))

	value, err := readSecret(os.Stdin, os.Stderr, "Value: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read value: %v\n", err)
		os.Exit(1)
	}

	switch rest[1] {
	case "github-token":
		err = store.SetGitHubToken(value)
	case "oauth-client-secret":
		err = store.SetOAuthClientSecret(value)
	case "ai-key":
		if len(rest) < 3 {
			fmt.Fprintf(os.Stderr, "missing provider id\n")
			os.Exit(2)
		}
		err = store.SetAIProviderAPIKey(rest[2], value)
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to store secret: %v\n", err)
		os.Exit(1)
	}
	if value == "" {
		fmt.Printf("Cleared %s.\n", rest[1])
		return
	}
	fmt.Printf("Stored %s in %s.\n", rest[1], store.Path())
}

// readSecret reads one line without echo when in is a terminal.
func readSecret(in *os.File, prompt io.Writer, label string) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
