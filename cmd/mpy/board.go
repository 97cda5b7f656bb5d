package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"micropython-service/internal/repl"
)

// stdoutFilter forwards the program output part of a streamed raw response:
// it drops a late raw prompt and the OK, and stops at the first
// end-of-transmission byte.
type stdoutFilter struct {
	w      io.Writer
	prefix int
	done   bool
}

func (f *stdoutFilter) chunk(fragment []byte) {
	if f.done {
		return
	}
	if f.prefix == 0 {
		fragment = bytes.TrimLeft(fragment, "\r\n>")
	}
	for len(fragment) > 0 && f.prefix < 2 {
		if fragment[0] != "OK"[f.prefix] {
			f.done = true
			return
		}
		f.prefix++
		fragment = fragment[1:]
	}
	if i := bytes.IndexByte(fragment, 0x04); i >= 0 {
		fragment = fragment[:i]
		f.done = true
	}
	if len(fragment) > 0 {
		_, _ = f.w.Write(fragment)
	}
}

// finish reports a remote traceback on stderr and turns it into an error.
func finish(cmd *cobra.Command, frame *repl.ResponseFrame) error {
	if err := frame.Err(); err != nil {
		_, _ = cmd.ErrOrStderr().Write(frame.ErrorText)
		return errors.New("remote program raised an exception")
	}
	return nil
}

// interruptOnCancel stops the board program when the command was canceled
// locally, so the board is not left running it.
func interruptOnCancel(session *repl.Session, err error) {
	if errors.Is(err, repl.ErrCanceled) {
		_ = session.Interrupt(context.Background())
	}
}

func newPortsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports that may have a board behind them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := opts.scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PORT\tVID:PID\tBOARD\tCONFIDENCE")
			for _, d := range devices {
				ids := "-"
				if d.VendorID != "" {
					ids = d.VendorID + ":" + d.ProductID
				}
				model := d.Model
				if model == "" {
					model = d.Product
				}
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", d.Path, ids, model, d.Confidence)
			}
			return tw.Flush()
		},
	}
}

func newExecCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec CODE",
		Short: "Execute Python source on the board and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			out := &stdoutFilter{w: cmd.OutOrStdout()}
			frame, err := session.Run(cmd.Context(), []byte(args[0]), out.chunk)
			if err != nil {
				interruptOnCancel(session, err)
				return err
			}
			return finish(cmd, frame)
		},
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a local script on the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			out := &stdoutFilter{w: cmd.OutOrStdout()}
			frame, err := session.Execfile(cmd.Context(), args[0], out.chunk)
			if err != nil {
				interruptOnCancel(session, err)
				return err
			}
			return finish(cmd, frame)
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Interrupt the running program and return to the friendly prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()
			return session.Stop(cmd.Context())
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Interrupt the running program and soft-reboot the board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()
			return session.Reset(cmd.Context())
		},
	}
}

func newPromptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Wait for the friendly prompt and print what the board sent before it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			banner, err := session.GetPrompt(cmd.Context(), opts.config.Repl.Timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(banner), "\r\n"))
			return nil
		},
	}
}
