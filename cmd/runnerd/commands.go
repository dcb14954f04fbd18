package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/appforge/runnerd/pkg/client"
)

// command bundles the client-side subcommand implementations.
type command struct {
	global *GlobalFlags
}

func (c command) newClient() *client.Client {
	cfg := client.DefaultConfig()
	if c.global.APIUrl != "" {
		cfg.BaseURL = c.global.APIUrl
	}
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	return client.New(cfg)
}

func (c command) Start(flags StartFlags) error {
	cl := c.newClient()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	st, err := cl.Start(ctx, client.StartRequest{
		ProjectID: flags.ProjectID,
		Command:   flags.Command,
		WorkDir:   flags.WorkDir,
		Port:      flags.Port,
		Env:       flags.EnvKVs,
	})
	if err != nil {
		return err
	}
	fmt.Printf("started %s (pid %d) on port %d, state %s\n", st.ProjectID, st.PID, st.Port, st.State)
	return nil
}

func (c command) Stop(flags StopFlags) error {
	cl := c.newClient()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	res, err := cl.Stop(ctx, client.StopRequest{
		ProjectID: flags.ProjectID,
		Timeout:   flags.Timeout,
		Reason:    flags.Reason,
		Port:      flags.Port,
		Force:     flags.Force,
	})
	if err != nil {
		return err
	}
	if res.Stopped {
		fmt.Printf("stopped %s\n", flags.ProjectID)
	} else {
		fmt.Printf("no active process for %s\n", flags.ProjectID)
	}
	return nil
}

func (c command) Status(flags StatusFlags) error {
	cl := c.newClient()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	if flags.ProjectID != "" {
		st, err := cl.Status(ctx, flags.ProjectID)
		if err != nil {
			return err
		}
		printStatuses([]client.ProcessStatus{st})
		return nil
	}
	if flags.All {
		rep, err := cl.StatusesAll(ctx)
		if err != nil {
			return err
		}
		if len(rep.Live) == 0 {
			fmt.Println("no active dev servers")
		} else {
			printStatuses(rep.Live)
		}
		if len(rep.Persisted) > 0 {
			fmt.Println("\nlast known (previous runs):")
			printPersisted(rep.Persisted)
		}
		return nil
	}
	sts, err := cl.Statuses(ctx)
	if err != nil {
		return err
	}
	if len(sts) == 0 {
		fmt.Println("no active dev servers")
		return nil
	}
	printStatuses(sts)
	return nil
}

func (c command) HealthCheck(flags HealthCheckFlags) error {
	cl := c.newClient()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	res, err := cl.HealthCheck(ctx, flags.ProjectID, flags.Port)
	if err != nil {
		return err
	}
	if res.Healthy {
		fmt.Printf("%s healthy on port %d\n", flags.ProjectID, flags.Port)
		return nil
	}
	fmt.Printf("%s unhealthy: %s\n", flags.ProjectID, res.Error)
	if res.PortFixed {
		fmt.Println("package.json port rewritten; restart the project to pick it up")
	}
	return fmt.Errorf("health check failed for %s", flags.ProjectID)
}

func (c command) timeout() time.Duration {
	if c.global.APITimeout > 0 {
		return c.global.APITimeout
	}
	return 30 * time.Second
}

func printStatuses(sts []client.ProcessStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tSTATE\tPID\tPORT\tSTARTED\tDETAIL")
	for _, st := range sts {
		started := ""
		if !st.StartedAt.IsZero() {
			started = st.StartedAt.Local().Format(time.DateTime)
		}
		detail := st.StopReason
		if st.Failure != nil {
			detail = st.Failure.Reason + ": " + st.Failure.Message
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			st.ProjectID, st.State, st.PID, st.Port, started, detail)
	}
	_ = w.Flush()
}

func printPersisted(rows []client.PersistedStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tSTATE\tPID\tPORT\tSTOPPED\tREASON")
	for _, row := range rows {
		stopped := ""
		if row.StoppedAt != nil {
			stopped = row.StoppedAt.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			row.ProjectID, row.State, row.PID, row.Port, stopped, row.FailureReason)
	}
	_ = w.Flush()
}
