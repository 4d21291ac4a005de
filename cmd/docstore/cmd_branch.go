package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/docstore/pkg/object"
	"github.com/odvcencio/docstore/pkg/workspace"
)

func newBranchCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Create, delete and list branches",
	}
	cmd.AddCommand(newBranchCreateCmd(g), newBranchDeleteCmd(g), newBranchListCmd(g))
	return cmd
}

func newBranchCreateCmd(g *globals) *cobra.Command {
	var head string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a branch with a generated name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				name, err := w.CreateBranch(ctx, workspace.CreateBranchOptions{Head: head})
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"name": name})
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&head, "head", "", "start point (default: the default branch tip)")
	return cmd
}

func newBranchDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a branch locally and on the origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				return w.DeleteBranch(ctx, args[0])
			})
		},
	}
}

func newBranchListCmd(g *globals) *cobra.Command {
	var opts workspace.BranchesOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				branches, err := w.Branches(ctx, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, branches)
				}
				for _, b := range branches {
					line := fmt.Sprintf("%-40s %s", b.Name, shortHash(string(b.Commit.Commit)))
					if b.Stat != nil {
						line += fmt.Sprintf(" %d files +%d -%d", b.Stat.FilesChanged, b.Stat.Additions, b.Stat.Deletions)
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Author, "author", "", "only branches with commits by this author name or email")
	cmd.Flags().StringVar(&opts.Base, "base", "", "base branch for --author and --stat")
	cmd.Flags().BoolVar(&opts.DiffStat, "stat", false, "include a diff summary against the base")
	return cmd
}

func newMergeCmd(g *globals) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch into --branch (default: the default branch)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				res, err := w.MergeBranch(ctx, args[0], workspace.MergeOptions{Head: g.branch, Message: message})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					if err := printJSON(out, res); err != nil {
						return err
					}
				} else {
					printMergeResult(out, res)
				}
				if !res.Success {
					return fmt.Errorf("merge of %s has %d conflicts", args[0], len(res.Conflicts))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func printMergeResult(out io.Writer, res *workspace.MergeResult) {
	if !res.Success {
		for _, c := range res.Conflicts {
			fmt.Fprintf(out, "CONFLICT %s\n", c.Path)
		}
		return
	}
	switch res.Analysis {
	case workspace.UpToDate:
		fmt.Fprintln(out, "already up to date")
	default:
		var h object.Hash
		if res.Commit != nil {
			h = res.Commit.Commit
		}
		fmt.Fprintf(out, "%s %s\n", res.Analysis, shortHash(string(h)))
	}
}

func newMergePreviewCmd(g *globals) *cobra.Command {
	var stat bool

	cmd := &cobra.Command{
		Use:   "merge-preview <branch>",
		Short: "Show what merging a branch would change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				d, err := w.MergePreview(ctx, args[0], workspace.MergeOptions{Head: g.branch})
				if err != nil {
					return err
				}
				if d == nil {
					return fmt.Errorf("%s: %w", args[0], workspace.ErrBranchNotFound)
				}
				return printDiff(cmd.OutOrStdout(), d, g.json, stat)
			})
		},
	}
	cmd.Flags().BoolVar(&stat, "stat", false, "print only a summary")
	return cmd
}
