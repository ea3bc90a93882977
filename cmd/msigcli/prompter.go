package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lightningnetwork/msig/multisig"
	"github.com/lightningnetwork/msig/walletspec"
	"golang.org/x/term"
)

// errNotTerminal is returned when a confirmation is needed but there is no
// terminal to ask on.
var errNotTerminal = errors.New("stdin is not a terminal, use --yes to " +
	"confirm non-interactively")

// terminalPrompter shows the device screens on the terminal and reads the
// user's yes/no answers.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer

	// autoConfirm answers every prompt with yes.
	autoConfirm bool

	// interactive reports whether the input is a terminal.
	interactive func() bool
}

// A compile time check to ensure terminalPrompter implements the
// multisig.Prompter interface.
var _ multisig.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter(autoConfirm bool) *terminalPrompter {
	return &terminalPrompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		autoConfirm: autoConfirm,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

func formatFingerprints(fps []walletspec.Fingerprint,
	own walletspec.Fingerprint) string {

	parts := make([]string, 0, len(fps))
	for _, fp := range fps {
		if fp == own {
			parts = append(parts, fmt.Sprintf("%v (this device)",
				fp))
			continue
		}
		parts = append(parts, fp.String())
	}

	return strings.Join(parts, "\n  ")
}

// ConfirmImport shows the wallet about to be registered.
//
// NOTE: This is part of the multisig.Prompter interface.
func (p *terminalPrompter) ConfirmImport(ctx context.Context,
	req *multisig.ImportRequest) (bool, error) {

	fmt.Fprintf(p.out, "Create new multisig wallet?\n\n")
	fmt.Fprintf(p.out, "Wallet name:\n  %s\n\n", req.Name)
	fmt.Fprintf(p.out, "Policy: %d of %d\n", req.M, req.N)
	fmt.Fprintf(p.out, "Addresses: %v\n\n", req.Format)
	fmt.Fprintf(p.out, "Cosigners:\n  %s\n\n",
		formatFingerprints(req.Fingerprints, req.OwnFingerprint))
	fmt.Fprintf(p.out, "Uses %d of %d free bytes.\n\n", req.Footprint,
		req.Free)

	return p.confirm(ctx, "Import wallet (yes/no): ")
}

// ConfirmAddress shows an address so the user can compare it with the one
// displayed by the host.
//
// NOTE: This is part of the multisig.Prompter interface.
func (p *terminalPrompter) ConfirmAddress(ctx context.Context,
	req *multisig.AddressRequest) (bool, error) {

	fmt.Fprintf(p.out, "Wallet: %s (%d of %d, %v)\n\n", req.Wallet,
		req.M, req.N, req.Format)
	fmt.Fprintf(p.out, "Paths:\n  %s\n\n", req.Path)
	fmt.Fprintf(p.out, "%s\n\n", req.Address)

	return p.confirm(ctx, "Address matches (yes/no): ")
}

// ConfirmDelete asks whether a wallet should really be removed.
//
// NOTE: This is part of the multisig.Prompter interface.
func (p *terminalPrompter) ConfirmDelete(ctx context.Context,
	req *multisig.DeleteRequest) (bool, error) {

	fmt.Fprintf(p.out, "Delete wallet %q (%d of %d, %v)?\n\n", req.Name,
		req.M, req.N, req.Format)
	fmt.Fprintf(p.out, "Funds sent to its addresses can only be spent "+
		"once it is imported again.\n\n")

	return p.confirm(ctx, "Are you SURE? (yes/no): ")
}

// confirm asks until the user answers yes or no.
func (p *terminalPrompter) confirm(ctx context.Context,
	msg string) (bool, error) {

	if p.autoConfirm {
		fmt.Fprintf(p.out, "%syes\n", msg)
		return true, nil
	}

	if !p.interactive() {
		return false, errNotTerminal
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		fmt.Fprint(p.out, msg)

		answer, err := p.in.ReadString('\n')
		if err != nil && answer == "" {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "yes", "y":
			return true, nil

		case "no", "n":
			return false, nil
		}

		if err != nil {
			return false, err
		}
	}
}
