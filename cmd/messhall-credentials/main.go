// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/messhall-labs/messhall/lib/process"
	"github.com/messhall-labs/messhall/lib/sealed"
	"github.com/messhall-labs/messhall/lib/secret"
	"github.com/messhall-labs/messhall/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "generate":
		return runGenerate(args[1:])
	case "seal":
		return runSeal(args[1:])
	case "show":
		return runShow(args[1:])
	case "version":
		fmt.Printf("messhall-credentials %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: messhall-credentials <subcommand> [flags]

Subcommands:
  generate    Create an age identity file and print its recipient
  seal        Encrypt the device username and password for a recipient
  show        Decrypt a credential file for verification
  version     Print version information

Run 'messhall-credentials <subcommand> --help' for subcommand flags.
`)
}

// runGenerate creates a fresh identity. The private key lands only in
// the identity file; the recipient goes to stdout so it can feed
// straight into "seal".
func runGenerate(args []string) error {
	flagSet := flag.NewFlagSet("generate", flag.ContinueOnError)
	identityPath := flagSet.String("identity", "", "path to write the age identity file (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *identityPath == "" {
		return fmt.Errorf("--identity is required")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	if err := keypair.WriteIdentity(*identityPath); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "identity written to %s\n", *identityPath)
	fmt.Println(keypair.PublicKey)
	return nil
}

// runSeal writes the encrypted credential file the attendance service
// unseals at startup.
func runSeal(args []string) error {
	flagSet := flag.NewFlagSet("seal", flag.ContinueOnError)
	credentialPath := flagSet.String("credentials", "", "path to write the sealed credential file (required)")
	recipient := flagSet.String("recipient", "", "age recipient printed by 'generate' (required)")
	username := flagSet.String("username", "", "device protocol username (prompted when empty)")
	passwordFile := flagSet.String("password-file", "", "read the password from this file instead of prompting")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *credentialPath == "" || *recipient == "" {
		return fmt.Errorf("--credentials and --recipient are required")
	}
	if err := sealed.ParsePublicKey(*recipient); err != nil {
		return err
	}

	name := strings.TrimSpace(*username)
	if name == "" {
		prompted, err := promptLine("Device username: ")
		if err != nil {
			return err
		}
		name = strings.TrimSpace(prompted)
	}
	if name == "" {
		return fmt.Errorf("username is empty")
	}

	password, err := readPassword(*passwordFile)
	if err != nil {
		return err
	}

	// SealCredentials zeroes both slices before returning.
	if err := sealed.SealCredentials(*credentialPath, *recipient, []byte(name), password); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "sealed credentials written to %s\n", *credentialPath)
	return nil
}

// readPassword reads the device password: from a file when one is
// given, from a piped stdin line, or from an interactive no-echo
// prompt with confirmation.
func readPassword(passwordFile string) ([]byte, error) {
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		password := []byte(strings.TrimRight(string(data), "\r\n"))
		if len(password) == 0 {
			return nil, fmt.Errorf("password file %s is empty", passwordFile)
		}
		return password, nil
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		// Piped input: read one line without prompting.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("reading password from stdin: %w", err)
		}
		password := []byte(strings.TrimRight(line, "\r\n"))
		if len(password) == 0 {
			return nil, fmt.Errorf("password is empty")
		}
		return password, nil
	}

	fmt.Fprint(os.Stderr, "Device password: ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		secret.Zero(first)
		return nil, fmt.Errorf("reading password confirmation: %w", err)
	}
	defer secret.Zero(second)

	if !bytes.Equal(first, second) {
		secret.Zero(first)
		return nil, fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("password is empty")
	}
	return first, nil
}

// promptLine prompts on stderr and reads one echoed line from stdin.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return line, nil
}

// runShow decrypts a credential file so an operator can check what a
// host would use. The password itself prints only with --reveal.
func runShow(args []string) error {
	flagSet := flag.NewFlagSet("show", flag.ContinueOnError)
	credentialPath := flagSet.String("credentials", "", "path to the sealed credential file (required)")
	identityPath := flagSet.String("identity", "", "path to the age identity file (required)")
	reveal := flagSet.Bool("reveal", false, "print the password instead of its length")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *credentialPath == "" || *identityPath == "" {
		return fmt.Errorf("--credentials and --identity are required")
	}

	privateKey, err := sealed.LoadIdentity(*identityPath)
	if err != nil {
		return err
	}
	defer privateKey.Close()

	credentials, err := sealed.UnsealCredentials(*credentialPath, privateKey)
	if err != nil {
		return err
	}
	defer credentials.Close()

	fmt.Printf("username: %s\n", credentials.Username.String())
	if *reveal {
		fmt.Printf("password: %s\n", credentials.Password.String())
	} else {
		fmt.Printf("password: %d bytes (use --reveal to print)\n", credentials.Password.Len())
	}
	return nil
}
