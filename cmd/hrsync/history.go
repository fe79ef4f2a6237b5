package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("history")
	limit := fs.Int("limit", 10, "Number of runs to show")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	storage, err := a.Storage()
	if err != nil {
		return err
	}
	runs, err := storage.RunHistory().List(ctx, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tDURATION\tTOTAL\tCACHED\tFETCHED\tSKIPPED\tFAILED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Kind,
			r.Duration().Round(time.Second),
			r.Total, r.Cached, r.Fetched, r.Skipped, r.Failed,
			r.Error,
		)
	}
	return w.Flush()
}
