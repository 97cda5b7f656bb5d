package main

import (
	"fmt"
	"io"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"micropython-service/internal/fileops"
)

// progressPrinter renders upload progress on one stderr line.
func progressPrinter(w io.Writer, name string) fileops.ProgressFunc {
	return func(percent int) {
		fmt.Fprintf(w, "\r%s: %3d%%", name, percent)
		if percent >= 100 {
			fmt.Fprintln(w)
		}
	}
}

func newLsCmd(opts *rootOptions) *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "ls [DIR]",
		Short: "List a directory on the board",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				if !detailed {
					names, err := fs.List(cmd.Context(), dir)
					if err != nil {
						return err
					}
					for _, name := range names {
						fmt.Fprintln(cmd.OutOrStdout(), name)
					}
					return nil
				}

				entries, err := fs.ListDetailed(cmd.Context(), dir)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tSIZE\tNAME")
				for _, e := range entries {
					size := "-"
					if e.Size != nil {
						size = fmt.Sprint(*e.Size)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Type, size, e.Name)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&detailed, "detailed", "l", false, "show entry type and size")
	return cmd
}

func newCatCmd(opts *rootOptions) *cobra.Command {
	var binary bool
	cmd := &cobra.Command{
		Use:   "cat PATH",
		Short: "Print a file from the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				read := fs.Read
				if binary {
					read = fs.ReadBytes
				}
				content, err := read(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(content)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&binary, "binary", "b", false, "read the file in binary mode")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get SRC [DEST]",
		Short: "Copy a file from the board to the host",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := path.Base(args[0])
			if len(args) == 2 {
				dest = args[1]
			}
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				n, err := fs.Get(cmd.Context(), args[0], dest)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (%d bytes)\n", args[0], dest, n)
				return nil
			})
		},
	}
}

func newPutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put SRC [DEST]",
		Short: "Copy a host file to the board",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := path.Base(args[0])
			if len(args) == 2 {
				dest = args[1]
			}
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				_, err := fs.Put(cmd.Context(), args[0], dest, progressPrinter(cmd.ErrOrStderr(), dest))
				return err
			})
		},
	}
}

func newSaveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save DEST",
		Short: "Write standard input to a file on the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				_, err := fs.Save(cmd.Context(), content, args[0], progressPrinter(cmd.ErrOrStderr(), args[0]))
				return err
			})
		},
	}
}

func newRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm PATH",
		Short: "Remove a file from the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				removed, err := fs.Remove(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("cannot remove %s", args[0])
				}
				return nil
			})
		},
	}
}

func newRmdirCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir PATH",
		Short: "Remove an empty directory from the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				removed, err := fs.Rmdir(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("cannot remove directory %s", args[0])
				}
				return nil
			})
		},
	}
}

func newMkdirCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a directory on the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				return fs.Mkdir(cmd.Context(), args[0])
			})
		},
	}
}

func newMvCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv FROM TO",
		Short: "Rename a file or directory on the board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				return fs.Rename(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newExistsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exists PATH",
		Short: "Print whether a path exists on the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFiles(cmd.Context(), func(fs *fileops.FS) error {
				ok, err := fs.Exists(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
}
