package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/services/extract"
)

var errVerifyInPortal = &cliError{msg: "the portal did not confirm the approval, verify it in the iHCM UI", code: 1}

func runLeave(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usagef("leave needs a subcommand: list, show, approve, reject or message")
	}

	sub, rest := args[0], args[1:]
	handler, ok := leaveCommands[sub]
	if !ok {
		return usagef("unknown leave subcommand %q", sub)
	}
	return a.invalidateOnExpiry(handler(ctx, a, rest))
}

var leaveCommands = map[string]command{
	"list":    leaveList,
	"show":    leaveShow,
	"approve": leaveApprove,
	"reject":  leaveReject,
	"message": leaveMessage,
}

func leaveProcessor(ctx context.Context, a *app) (*extract.LeaveProcessor, func(), error) {
	session, err := a.Acquire(ctx, false, "")
	if err != nil {
		return nil, nil, err
	}
	closeSession := func() { _ = session.Close() }
	return extract.NewLeaveProcessor(a.Portal(session, a.logger), a.logger), closeSession, nil
}

// parseWithID accepts the record id either before or after the flags
func parseWithID(name string, args []string, define func(*flag.FlagSet)) (string, error) {
	fs := newFlagSet("leave " + name)
	define(fs)

	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", flagError(err)
	}
	if id == "" {
		id = fs.Arg(0)
	}
	if id == "" {
		return "", usagef("leave %s needs a record id", name)
	}
	return id, nil
}

func heading(title string) {
	fmt.Println()
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 60))
}

func leaveList(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("leave list")
	olderThan := fs.Int("older-than", 0, "Only requests older than this many days")
	limit := fs.Int("limit", extract.DefaultLeaveLimit, "Maximum records to return")
	employee := fs.String("employee", "", "Filter by employee name")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	processor, done, err := leaveProcessor(ctx, a)
	if err != nil {
		return err
	}
	defer done()

	listing, err := processor.List(ctx, models.LeaveQuery{OlderThanDays: *olderThan, Limit: *limit, Employee: *employee})
	if err != nil {
		return err
	}

	heading("Pending Leave Requests")
	if len(listing.Records) == 0 {
		fmt.Println("No pending leave requests found.")
		fmt.Println()
		fmt.Println("If you expected requests, check that your account has the Expert role")
		fmt.Println("with leave management permissions in iHCM.")
		return nil
	}

	fmt.Printf("\nFound %d pending request(s) via the %s endpoint:\n\n", len(listing.Records), listing.Source)
	for i, record := range listing.Records {
		fmt.Printf("[%d] %s\n", i+1, strings.Repeat("-", 56))
		printLeaveSummary(extract.Summarize(record))
		fmt.Println()
	}
	return nil
}

func printLeaveSummary(s models.LeaveSummary) {
	fmt.Printf("  Employee: %s\n", s.Employee)
	fmt.Printf("  Leave Type: %s\n", s.LeaveType)
	fmt.Printf("  Dates: %s to %s\n", s.StartDate, s.EndDate)
	fmt.Printf("  Status: %s\n", s.Status)
	if s.Manager != "" {
		fmt.Printf("  Manager: %s\n", s.Manager)
	}
	if s.PendingDays != "" {
		fmt.Printf("  Pending Days: %s\n", s.PendingDays)
	}
	if s.Details != "" {
		fmt.Printf("  Details: %s\n", s.Details)
	}
	fmt.Printf("  Record ID: %s\n", s.RecordID)
}

func leaveShow(ctx context.Context, a *app, args []string) error {
	id, err := parseWithID("show", args, func(*flag.FlagSet) {})
	if err != nil {
		return err
	}

	processor, done, err := leaveProcessor(ctx, a)
	if err != nil {
		return err
	}
	defer done()

	details, err := processor.Show(ctx, id)
	if err != nil {
		return err
	}

	heading("Leave Request Details: " + id)
	pretty, err := json.MarshalIndent(json.RawMessage(details), "", "  ")
	if err != nil {
		// Not JSON; print what the portal sent
		fmt.Println(string(details))
		return nil
	}
	fmt.Println(string(pretty))
	return nil
}

func leaveApprove(ctx context.Context, a *app, args []string) error {
	var comments *string
	id, err := parseWithID("approve", args, func(fs *flag.FlagSet) {
		comments = fs.String("comments", "", "Optional approval comment")
	})
	if err != nil {
		return err
	}

	processor, done, err := leaveProcessor(ctx, a)
	if err != nil {
		return err
	}
	defer done()

	heading("Approving leave request: " + id)
	ok, err := processor.Approve(ctx, id, *comments)
	if err != nil {
		return err
	}
	if !ok {
		return errVerifyInPortal
	}
	fmt.Println("\nLeave request approved.")
	return nil
}

func leaveReject(ctx context.Context, a *app, args []string) error {
	var reason *string
	id, err := parseWithID("reject", args, func(fs *flag.FlagSet) {
		reason = fs.String("reason", "", "Reason for the rejection (required)")
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(*reason) == "" {
		return usagef("%v: pass -reason", extract.ErrReasonRequired)
	}

	processor, done, err := leaveProcessor(ctx, a)
	if err != nil {
		return err
	}
	defer done()

	heading("Rejecting leave request: " + id)
	if err := processor.Reject(ctx, id, *reason); err != nil {
		return err
	}
	fmt.Println("\nLeave request rejected.")
	return nil
}

func leaveMessage(ctx context.Context, a *app, args []string) error {
	var pdfPath *string
	id, err := parseWithID("message", args, func(fs *flag.FlagSet) {
		pdfPath = fs.String("pdf", "", "Also render the message to this PDF file")
	})
	if err != nil {
		return err
	}

	processor, done, err := leaveProcessor(ctx, a)
	if err != nil {
		return err
	}
	defer done()

	msg, err := processor.Message(ctx, id)
	if err != nil {
		return err
	}

	heading(msg.Subject)
	if msg.From != "" {
		fmt.Printf("From: %s\n", msg.From)
	}
	if msg.Date != "" {
		fmt.Printf("Date: %s\n", msg.Date)
	}
	fmt.Println()
	fmt.Println(msg.Markdown)

	if *pdfPath == "" {
		return nil
	}
	data, err := processor.MessagePDF(msg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*pdfPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *pdfPath, err)
	}
	fmt.Printf("\nSaved %s\n", *pdfPath)
	return nil
}
