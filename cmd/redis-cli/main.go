package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pior/redis"
	"github.com/pior/redis/resp"
)

type options struct {
	addr        string
	sentinels   []string
	service     string
	timeout     time.Duration
	raiseErrors bool
	verbose     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "redis-cli [command [arg ...]]",
		Short: "Send commands to a Redis server",
		Long: "redis-cli sends one command given as arguments, or starts an interactive prompt when none is given.\n" +
			"With --sentinel, the primary of --service is discovered through the sentinels.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "127.0.0.1:6379", "server address")
	flags.StringSliceVar(&opts.sentinels, "sentinel", nil, "sentinel address (repeatable)")
	flags.StringVar(&opts.service, "service", "", "service name monitored by the sentinels")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "timeout of each command")
	flags.BoolVar(&opts.raiseErrors, "raise-errors", false, "exit with an error status on error replies")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection events")

	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func newClient(opts *options, logger *zap.Logger) (*redis.Client, error) {
	var resolver redis.Resolver = redis.StaticResolver(opts.addr)

	if len(opts.sentinels) > 0 {
		sentinel, err := redis.NewSentinel(redis.SentinelConfig{
			ServiceName: opts.service,
			Addrs:       opts.sentinels,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		resolver = sentinel
	}

	return redis.NewClient(resolver, redis.Config{
		MaxSize: 1,
		Conn: redis.ConnConfig{
			ConnectTimeout:    opts.timeout,
			RaiseErrorReplies: opts.raiseErrors,
		},
		Logger: logger,
	})
}

func run(ctx context.Context, opts *options, args []string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := newClient(opts, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(args) > 0 {
		return execute(ctx, client, opts.timeout, args, out)
	}
	return repl(ctx, client, opts.timeout, in, out)
}

// execute sends one command and prints its reply.
func execute(ctx context.Context, client *redis.Client, timeout time.Duration, args []string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fields := make([][]byte, len(args))
	for i, a := range args {
		fields[i] = []byte(a)
	}

	reply, err := client.DoArgs(ctx, fields...)

	var serr *resp.ServerError
	if errors.As(err, &serr) {
		fmt.Fprintf(out, "(error) %s\n", serr.Message)
		return err
	}
	if err != nil {
		fmt.Fprintf(out, "(error) %v\n", err)
		return err
	}

	fmt.Fprintln(out, formatReply(reply))
	return nil
}

func repl(ctx context.Context, client *redis.Client, timeout time.Duration, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", client.Name())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintf(out, "(error) %v\n", err)
			continue
		}

		// Errors are printed; the prompt keeps going
		_ = execute(ctx, client, timeout, args, out)
	}
}
