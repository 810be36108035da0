// Package auth provides the interactive login layer for the archiver's
// gotd-backed client: reading phone/code/2FA from the console, accepting
// ToS, and first-time sign-up. It wires the CLI's readline instance into
// gotd without touching the network layer itself.
package auth

import (
	"context"
	"strings"
	"syscall"

	"chatarchiver/internal/infra/pr"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// readLine prints a prompt, reads a line from the shared readline instance,
// and trims surrounding whitespace.
func readLine(prompt string) (string, error) {
	pr.SetPrompt(prompt)
	line, err := pr.Rl().Readline()
	return strings.TrimSpace(line), err
}

// TerminalAuthenticator implements auth.UserAuthenticator by collecting
// input from the terminal: phone number, confirmation code, 2FA password,
// ToS acceptance, and first-time sign-up.
type TerminalAuthenticator struct {
	PhoneNumber string
}

// Phone returns the pre-configured phone number. Format is not validated;
// callers must supply E.164.
func (t TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code prompts for the confirmation code Telegram just sent.
func (t TerminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code from Telegram: ")
}

// Password reads the 2FA password without echoing it to the terminal.
func (t TerminalAuthenticator) Password(_ context.Context) (string, error) {
	pr.Print("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService prints Telegram's terms and requires an explicit
// "y"/"Y" to continue.
func (t TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp is called for an unregistered phone number: collects first/last
// name for registration.
func (t TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := readLine("Enter your last name (optional): ")
	return auth.UserInfo{
		FirstName: firstName,
		LastName:  lastName,
	}, nil
}
