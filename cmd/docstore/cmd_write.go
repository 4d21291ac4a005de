package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/workspace"
)

type writeFlags struct {
	message     string
	authorName  string
	authorEmail string
}

func (f *writeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&f.authorName, "author-name", "", "author name (default: the committer)")
	cmd.Flags().StringVar(&f.authorEmail, "author-email", "", "author email")
}

func (f *writeFlags) options(branch string) workspace.WriteOptions {
	return workspace.WriteOptions{
		Branch:  branch,
		Message: f.message,
		Author:  object.Ident{Name: f.authorName, Email: f.authorEmail},
	}
}

func newPutCmd(g *globals) *cobra.Command {
	var f writeFlags

	cmd := &cobra.Command{
		Use:   "put <path> [file|-]",
		Short: "Write a document from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				c, err := w.Write(ctx, args[0], content, f.options(g.branch))
				if err != nil {
					return err
				}
				return printCommitResult(cmd.OutOrStdout(), c, g.json)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newRmCmd(g *globals) *cobra.Command {
	var f writeFlags

	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				edits := make([]workspace.Edit, 0, len(args))
				for _, p := range args {
					edits = append(edits, workspace.Edit{Path: p, Delete: true})
				}
				var (
					c   *workspace.CommitInfo
					err error
				)
				if len(edits) == 1 {
					c, err = w.Delete(ctx, args[0], f.options(g.branch))
				} else {
					c, err = w.WriteMany(ctx, edits, f.options(g.branch))
				}
				if err != nil {
					return err
				}
				return printCommitResult(cmd.OutOrStdout(), c, g.json)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

func printCommitResult(out io.Writer, c *workspace.CommitInfo, asJSON bool) error {
	if asJSON {
		return printJSON(out, c)
	}
	if c == nil {
		fmt.Fprintln(out, "no changes")
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", shortHash(string(c.Commit)), c.Message)
	return nil
}
