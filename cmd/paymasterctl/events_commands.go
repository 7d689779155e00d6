package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// tailEventsCommand streams paymaster events until interrupted
func tailEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Stream paymaster events from NATS, or Redis pub/sub with --redis-addr",
		ArgsUsage: "[kind]",
		Description: `Print events as they are published. Restrict to one kind with an argument.

Example:
  paymasterctl events tail drain_attempt
  paymasterctl events tail --redis-addr localhost:6379`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:  "redis-addr",
				Usage: "read the Redis pub/sub fallback instead of NATS",
			},
		},
		Action: func(c *cli.Context) error {
			if addr := c.String("redis-addr"); addr != "" {
				return tailRedis(c, addr, events.Kind(c.Args().Get(0)))
			}

			subject := events.StreamSubjects
			if c.NArg() == 1 {
				subject = (&events.Event{Kind: events.Kind(c.Args().Get(0))}).Subject()
			}

			nc, err := nats.Connect(c.String("nats-url"), nats.Name("paymasterctl"), nats.Timeout(10*time.Second))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				printEvent(c, msg.Data)
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}
			defer sub.Unsubscribe()

			fmt.Fprintf(os.Stderr, "listening on %s\n", subject)
			<-ctx.Done()
			if ctx.Err() == context.Canceled {
				return nil
			}
			return ctx.Err()
		},
	}
}

func tailRedis(c *cli.Context, addr string, kind events.Kind) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	pub, err := events.NewRedisPublisher(client, logrus.New())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "listening on redis %s\n", addr)
	err = pub.Subscribe(ctx, func(ev *events.Event) {
		if kind != "" && ev.Kind != kind {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		printEvent(c, data)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvent(c *cli.Context, data []byte) {
	if c.Bool("json") {
		fmt.Fprintln(c.App.Writer, string(data))
		return
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Fprintf(os.Stderr, "malformed event: %v\n", err)
		return
	}
	line := fmt.Sprintf("%s  %-20s", ev.Timestamp.Format(time.RFC3339), ev.Kind)
	if ev.QuoteID != "" {
		line += " quote=" + ev.QuoteID
	}
	if ev.MessageHash != "" {
		line += " hash=" + ev.MessageHash
	}
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	fmt.Fprintln(c.App.Writer, line)
	for _, e := range ev.Errors {
		fmt.Fprintf(c.App.Writer, "    - %s\n", e)
	}
}
