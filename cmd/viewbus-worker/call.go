package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bus "github.com/frifox/viewbus"
)

func newCallCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <func> [body]",
		Short: "Call a func on the service queue and print the reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			body := ""
			if len(args) == 2 {
				body = args[1]
			}
			query, _ := cmd.Flags().GetString("query")
			return runCall(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], body, query)
		},
	}

	f := cmd.Flags()
	f.Duration("timeout", 0, "how long to wait for the reply (default 10s)")
	f.String("query", "", "raw query for url.Values args, ie code=418&body=hi")
	_ = v.BindPFlag("msg_timeout", f.Lookup("timeout"))

	return cmd
}

func runCall(ctx context.Context, out io.Writer, cfg Config, fn string, body string, query string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	bus.SetLogger(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := bus.NewBus(bus.Opts{
		Context:       ctx,
		DSN:           cfg.DSN,
		CallbackQueue: callbackQueue(cfg),
		Prefetch:      1,
		MsgTTL:        cfg.MsgTTL,
	})
	go b.Run()

	reply, err := b.Call(ctx, body, bus.PublishOpts{
		ToQueue:    cfg.Queue,
		ToFunc:     fn,
		Header:     queryHeader(query),
		BusTimeout: cfg.MsgTimeout,
		BusTTL:     cfg.MsgTTL,
	})
	if err != nil {
		return fmt.Errorf("call %s: %w", fn, err)
	}

	// stop Run() and wait for it
	cancel()
	<-b.Done()

	printReply(out, reply)
	return reply.AsError()
}

func printReply(out io.Writer, reply *bus.Message) {
	fmt.Fprintf(out, "%d", reply.StatusCode)
	if reply.Type != "" {
		fmt.Fprintf(out, " (%s)", reply.Type)
	}
	fmt.Fprintln(out)

	keys := make([]string, 0, len(reply.Header))
	for k := range reply.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, strings.Join(reply.Header[k], ", "))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, string(reply.Body))
}

// queryHeader carries query to url.Values handler args.
func queryHeader(query string) http.Header {
	h := http.Header{}
	if query != "" {
		h.Set("RawQuery", query)
	}
	return h
}
