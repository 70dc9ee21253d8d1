package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/repo"
)

func itemCmd() *cobra.Command {
	it := &cobra.Command{
		Use:   "item",
		Short: "Inspect and create Initiatives, Features, Epics and Stories",
	}
	it.AddCommand(itemListCmd())
	it.AddCommand(itemShowCmd())
	it.AddCommand(itemCreateCmd())
	it.AddCommand(itemTraceCmd())
	it.AddCommand(itemTreeCmd())
	return it
}

func itemListCmd() *cobra.Command {
	var level, parent, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.ItemFilters{ProjectID: e.Config.Project.ID, ParentID: parent, Status: status, Limit: limit}
				if level != "" {
					l, err := domain.ParseLevel(level)
					if err != nil {
						return err
					}
					f.Level = l
				}
				items, err := e.Repo.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Level", "Title", "Priority", "Status", "Parent")
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Level, truncate(it.Title, 48), it.Priority, it.Status, it.ParentID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "initiative, feature, epic or story")
	cmd.Flags().StringVar(&parent, "parent", "", "parent id")
	cmd.Flags().StringVar(&status, "status", "", "draft, accepted or orphaned")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := itemInProject(ctx, e, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				fmt.Printf("%s %s  [%s, %s]\n", it.Level.Title(), it.Title, it.Priority, it.Status)
				fmt.Printf("id: %s  parent: %s %s  source: %s\n\n", it.ID, it.ParentLevel, it.ParentID, it.Source)
				fmt.Println(it.Description)
				if it.Rationale != "" {
					fmt.Printf("\nRationale:\n  %s\n", it.Rationale)
				}
				if len(it.AcceptanceCriteria) > 0 {
					fmt.Println("\nAcceptance criteria:")
					for _, c := range it.AcceptanceCriteria {
						fmt.Println("  -", c)
					}
				}
				return nil
			})
		},
	}
}

func itemCreateCmd() *cobra.Command {
	var in engine.ItemInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an item by hand under a brief or item",
		Long:  "The level follows from the parent. The item passes the same duplicate and consistency checks as generated items.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateItem(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				fmt.Printf("created %s %s (%s)\n", it.Level, it.ID, it.Title)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.ParentID, "parent", "", "parent brief or item id")
	f.StringVar(&in.Title, "title", "", "title")
	f.StringVar(&in.Description, "description", "", "description")
	f.StringVar(&in.Rationale, "rationale", "", "why it matters")
	f.StringArrayVar(&in.AcceptanceCriteria, "criteria", nil, "acceptance criterion (repeatable)")
	f.StringVar(&in.Priority, "priority", "", "low, medium, high or critical")
	f.StringVar(&in.Category, "category", "", "category")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <id>",
		Short: "Show the chain from the root brief down to an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := itemInProject(ctx, e, args[0]); err != nil {
					return err
				}
				chain, err := e.Trace(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(chain)
				}
				for i, n := range chain {
					id := n.ID
					if n.DisplayID != "" {
						id = n.DisplayID
					}
					fmt.Printf("%s%s %s: %s [%s]\n", strings.Repeat("  ", i), n.Level.Title(), id, n.Title, n.Status)
				}
				return nil
			})
		},
	}
}

func itemTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <brief-id>",
		Short: "Show the full hierarchy under a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := briefInProject(ctx, e, args[0])
				if err != nil {
					return err
				}
				tree, err := e.Tree(ctx, b.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tree)
				}
				fmt.Printf("%s %s [%s]\n", tree.Brief.DisplayID, tree.Brief.Title, tree.Brief.Status)
				printTree(tree.Children, "")
				return nil
			})
		},
	}
}

func printTree(nodes []engine.TreeNode, prefix string) {
	for i, n := range nodes {
		last := i == len(nodes)-1
		connector := "├── "
		nextPrefix := prefix + "│   "
		if last {
			connector = "└── "
			nextPrefix = prefix + "    "
		}
		fmt.Printf("%s%s%s: %s (%s)\n", prefix, connector, n.Item.Level.Title(), n.Item.Title, n.Item.ID)
		printTree(n.Children, nextPrefix)
	}
}

func itemInProject(ctx context.Context, e engine.Engine, id string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, err)
	}
	if it.ProjectID != e.Config.Project.ID {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, repo.ErrNotFound)
	}
	return it, nil
}
