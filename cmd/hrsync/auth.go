package main

import (
	"context"
	"fmt"

	"github.com/ternarybob/hrsync/internal/services/auth"
	"github.com/ternarybob/hrsync/internal/services/extract"
)

func runAuth(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usagef("auth needs a subcommand: test or clear")
	}

	switch args[0] {
	case "test":
		return authTest(ctx, a, args[1:])
	case "clear":
		manager, err := a.sessionManager(ctx)
		if err != nil {
			return err
		}
		if err := manager.ClearCache(); err != nil {
			return err
		}
		fmt.Println("Session cache cleared.")
		return nil
	}
	return usagef("unknown auth subcommand %q", args[0])
}

// authTest signs in and makes one small directory request
func authTest(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("auth test")
	protocol := fs.Bool("protocol", false, "Force the HTTP-only sign-on flow")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	mode := ""
	if *protocol {
		mode = auth.ModeProtocol
	}

	session, err := a.Acquire(ctx, false, mode)
	if err != nil {
		return err
	}
	defer session.Close()

	page, err := a.Portal(session, a.logger).QueryEmployees(ctx, 0, extract.TestPageSize)
	if err != nil {
		return a.invalidateOnExpiry(err)
	}

	source := "fresh login"
	if session.FromCache {
		source = "cached session"
	}
	fmt.Printf("Authenticated via %s. Directory holds %d employees.\n", source, page.Total)
	return nil
}
