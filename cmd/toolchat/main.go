// Command toolchat is a terminal chat client for a running tool builder
// server. It speaks the same WebSocket protocol as the browser sidebar.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatooly/toolbuilder/internal/client"
	"github.com/chatooly/toolbuilder/internal/logging"
	"github.com/chatooly/toolbuilder/internal/protocol"
	"github.com/spf13/cobra"
)

type options struct {
	url         string
	prompt      string
	attach      []string
	baseDelay   time.Duration
	maxAttempts int
	heartbeat   time.Duration
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "toolchat:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "toolchat",
		Short:         "Chat with the tool builder agent from a terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "ws://localhost:3001/ws", "server WebSocket URL")
	flags.StringVarP(&opts.prompt, "prompt", "p", "", "send one prompt, print the reply and exit")
	flags.StringSliceVar(&opts.attach, "attach", nil, "image files to attach to --prompt")
	flags.DurationVar(&opts.baseDelay, "reconnect-delay", 3*time.Second, "base reconnect delay, multiplied by the attempt number")
	flags.IntVar(&opts.maxAttempts, "reconnect-attempts", 5, "reconnect attempts before giving up")
	flags.DurationVar(&opts.heartbeat, "heartbeat", 30*time.Second, "heartbeat ping interval")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	logger := logging.SetupWithConfig(opts.logLevel, "text", os.Stderr)

	atts, err := loadAttachments(opts.attach)
	if err != nil {
		return err
	}

	sess := newSession(newTerminalView(out))
	c := client.New(client.Config{
		URL:               opts.url,
		BaseDelay:         opts.baseDelay,
		MaxAttempts:       opts.maxAttempts,
		HeartbeatInterval: opts.heartbeat,
		Dialer:            client.WebSocketDialer{},
		Logger:            logger,
	}, sess)
	defer c.Close()
	c.Connect()

	if err := sess.waitConnected(ctx); err != nil {
		return err
	}

	if opts.prompt != "" {
		return sess.ask(ctx, c, opts.prompt, atts)
	}
	if len(atts) > 0 {
		return errors.New("--attach requires --prompt")
	}
	return repl(ctx, c, sess, in, out, logger)
}

// repl reads prompts line by line. Lines starting with a slash are commands.
func repl(ctx context.Context, c *client.Client, sess *session, in io.Reader, out io.Writer, logger *slog.Logger) error {
	fmt.Fprintln(out, "Type a message, or /cancel, /reset, /quit.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := readLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.gaveUp:
			return errors.New("connection lost")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/quit", "/exit":
				return nil
			case "/cancel":
				if err := c.Cancel(); err != nil {
					logger.Warn("Cancel failed", "error", err)
				}
			case "/reset":
				if err := c.Reset(); err != nil {
					logger.Warn("Reset failed", "error", err)
				}
			default:
				sess.UserPrompt(line)
				if err := c.Chat(line, nil); err != nil {
					fmt.Fprintln(out, "error:", err)
				}
			}
		}
	}
}

// readLines scans in on a goroutine. The goroutine exits at EOF or, once
// the caller stops receiving, when ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// ask sends one prompt and waits for its terminal event.
func (s *session) ask(ctx context.Context, c *client.Client, prompt string, atts []protocol.Attachment) error {
	s.UserPrompt(prompt)
	if err := c.Chat(prompt, atts); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		_ = c.Cancel()
		return ctx.Err()
	case <-s.gaveUp:
		return errors.New("connection lost before the reply finished")
	case m := <-s.finished:
		if r, ok := m.(protocol.Result); ok && r.Succeeded() {
			return nil
		}
		return errors.New("request did not complete")
	}
}
