package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/docstore/pkg/diff"
	"github.com/odvcencio/docstore/pkg/workspace"
)

func newLsCmd(g *globals) *cobra.Command {
	var ref string
	var nested bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				if nested {
					snap, err := w.ReadAll(ctx, workspace.ReadAllOptions{Branch: g.branch, Ref: ref, Mode: workspace.Nested})
					if err != nil {
						return err
					}
					if g.json {
						return printJSON(out, snap)
					}
					if snap != nil {
						printDir(out, snap.Root, "")
					}
					return nil
				}
				entries, err := w.List(ctx, workspace.ReadOptions{Branch: g.branch, Ref: ref})
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(out, entries)
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%s %s %s\n", e.Mode, shortHash(string(e.Hash)), e.Path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "list at a commit, ref or hash prefix instead of the branch tip")
	cmd.Flags().BoolVar(&nested, "tree", false, "print as a directory tree")
	return cmd
}

func printDir(out io.Writer, d *workspace.Dir, indent string) {
	for _, f := range d.Files {
		fmt.Fprintf(out, "%s%s\n", indent, baseName(f.Path))
	}
	for _, sub := range d.Dirs {
		fmt.Fprintf(out, "%s%s/\n", indent, sub.Name)
		printDir(out, sub, indent+"  ")
	}
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func newCatCmd(g *globals) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				doc, err := w.Read(ctx, args[0], workspace.ReadOptions{Branch: g.branch, Ref: ref})
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), doc)
				}
				if doc == nil {
					return fmt.Errorf("%s: not found", args[0])
				}
				_, err = cmd.OutOrStdout().Write(doc.Content)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "read at a commit, ref or hash prefix instead of the branch tip")
	return cmd
}

func newLogCmd(g *globals) *cobra.Command {
	var ref string
	var limit int
	var oneline bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				commits, err := w.Log(ctx, workspace.LogOptions{Branch: g.branch, Ref: ref, Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, commits)
				}
				for _, c := range commits {
					printCommit(out, c, oneline)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "start from a commit, ref or hash prefix")
	cmd.Flags().IntVarP(&limit, "limit", "n", workspace.DefaultLogLimit, "maximum number of commits")
	cmd.Flags().BoolVar(&oneline, "oneline", false, "one line per commit")
	return cmd
}

func newReflogCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reflog [branch]",
		Short: "Show how the local copy of a branch moved",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branch := g.branch
			if len(args) == 1 {
				branch = args[0]
			}
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				changes, err := w.Reflog(ctx, branch, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, changes)
				}
				for _, c := range changes {
					sha := shortHash(string(c.New))
					if sha == "" {
						sha = "-"
					}
					fmt.Fprintf(out, "%s %s %s %s\n", sha, c.Time.Format(time.RFC3339), c.Ref, c.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show")
	return cmd
}

func printCommit(out io.Writer, c *workspace.CommitInfo, oneline bool) {
	if oneline {
		fmt.Fprintf(out, "%s %s\n", shortHash(string(c.Commit)), c.Message)
		return
	}
	fmt.Fprintf(out, "commit %s\n", c.Commit)
	if len(c.Parents) > 1 {
		fmt.Fprint(out, "Merge:")
		for _, p := range c.Parents {
			fmt.Fprintf(out, " %s", shortHash(string(p)))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Author: %s\n", c.Author)
	fmt.Fprintf(out, "Date:   %s\n", c.AuthorTime.Format(time.RFC1123Z))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "    %s\n", c.Message)
	fmt.Fprintln(out)
}

func newDiffCmd(g *globals) *cobra.Command {
	var stat bool
	var noRenames bool
	var paths []string

	cmd := &cobra.Command{
		Use:   "diff <from> [to]",
		Short: "Show changes between two commits (to defaults to the branch tip)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := g.branch
			if len(args) == 2 {
				to = args[1]
			}
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				d, err := w.Diff(ctx, args[0], to, workspace.DiffOptions{Paths: paths, NoRenames: noRenames, NoPatch: stat})
				if err != nil {
					return err
				}
				if d == nil {
					return fmt.Errorf("%s: unknown revision", args[0])
				}
				return printDiff(cmd.OutOrStdout(), d, g.json, stat)
			})
		},
	}
	cmd.Flags().BoolVar(&stat, "stat", false, "print only a summary")
	cmd.Flags().BoolVar(&noRenames, "no-renames", false, "report renames as delete plus add")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "limit to these paths")
	return cmd
}

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a commit and its changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, g, func(ctx context.Context, w *workspace.Workspace) error {
				d, err := w.Show(ctx, args[0])
				if err != nil {
					return err
				}
				if d == nil {
					return fmt.Errorf("%s: unknown revision", args[0])
				}
				if !g.json {
					printCommit(cmd.OutOrStdout(), d.Commits[1], false)
				}
				return printDiff(cmd.OutOrStdout(), d, g.json, false)
			})
		},
	}
}

func printDiff(out io.Writer, d *workspace.DiffResult, asJSON, statOnly bool) error {
	if asJSON {
		return printJSON(out, d)
	}
	if statOnly {
		for _, c := range d.Changes {
			fmt.Fprintf(out, " %-8s %s | +%d -%d\n", c.Type, c.Path(), c.Additions, c.Deletions)
		}
		fmt.Fprintf(out, " %d files changed, %d insertions(+), %d deletions(-)\n", d.FilesChanged, d.Additions, d.Deletions)
		byType := d.ByType()
		var kinds []string
		for _, t := range []diff.ChangeType{diff.Added, diff.Modified, diff.Renamed, diff.Deleted} {
			if n := len(byType[t]); n > 0 {
				kinds = append(kinds, fmt.Sprintf("%d %s", n, t))
			}
		}
		if len(kinds) > 0 {
			fmt.Fprintf(out, " (%s)\n", strings.Join(kinds, ", "))
		}
		return nil
	}
	for _, c := range d.Changes {
		fmt.Fprint(out, c.Patch)
	}
	return nil
}
