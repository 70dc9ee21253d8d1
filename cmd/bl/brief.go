package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/llm"
	"briefline/internal/repo"
)

// briefFile is the YAML form of a brief accepted by --file.
type briefFile struct {
	Title              string   `yaml:"title"`
	Objective          string   `yaml:"objective"`
	Outcomes           string   `yaml:"outcomes"`
	Scope              string   `yaml:"scope"`
	RiskOfInaction     string   `yaml:"risk_of_inaction"`
	HappyPath          string   `yaml:"happy_path"`
	Exceptions         string   `yaml:"exceptions"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	StakeholderImpact  string   `yaml:"stakeholder_impact"`
	DepartmentImpact   string   `yaml:"department_impact"`
	TechnologyImpact   string   `yaml:"technology_impact"`
}

func readBriefFile(path string) (engine.BriefInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.BriefInput{}, err
	}
	var f briefFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return engine.BriefInput{}, fmt.Errorf("invalid brief yaml: %w", err)
	}
	return engine.BriefInput{
		Title:              f.Title,
		Objective:          f.Objective,
		Outcomes:           f.Outcomes,
		Scope:              f.Scope,
		RiskOfInaction:     f.RiskOfInaction,
		HappyPath:          f.HappyPath,
		Exceptions:         f.Exceptions,
		AcceptanceCriteria: f.AcceptanceCriteria,
		StakeholderImpact:  f.StakeholderImpact,
		DepartmentImpact:   f.DepartmentImpact,
		TechnologyImpact:   f.TechnologyImpact,
	}, nil
}

func briefCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "brief",
		Short: "Manage business briefs",
		Long:  "A brief states the business intent. Submit it, assess its quality, approve it, then generate Initiatives from it.",
	}
	b.AddCommand(briefSubmitCmd())
	b.AddCommand(briefUpdateCmd())
	b.AddCommand(briefListCmd())
	b.AddCommand(briefShowCmd())
	b.AddCommand(briefStatusCmd())
	b.AddCommand(briefDeleteCmd())
	b.AddCommand(briefAssessCmd())
	b.AddCommand(briefHistoryCmd())
	return b
}

func addBriefFlags(cmd *cobra.Command, in *engine.BriefInput) {
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "brief title")
	f.StringVar(&in.Objective, "objective", "", "business objective")
	f.StringVar(&in.Outcomes, "outcomes", "", "quantifiable business outcomes")
	f.StringVar(&in.Scope, "scope", "", "in and out of scope")
	f.StringVar(&in.RiskOfInaction, "risk", "", "impact of doing nothing")
	f.StringVar(&in.HappyPath, "happy-path", "", "happy path narrative")
	f.StringVar(&in.Exceptions, "exceptions", "", "exceptions and edge cases")
	f.StringArrayVar(&in.AcceptanceCriteria, "criteria", nil, "acceptance criterion (repeatable)")
	f.StringVar(&in.StakeholderImpact, "stakeholders", "", "impacted stakeholders")
	f.StringVar(&in.DepartmentImpact, "departments", "", "department impact")
	f.StringVar(&in.TechnologyImpact, "technology", "", "technology impact")
}

func briefSubmitCmd() *cobra.Command {
	var in engine.BriefInput
	var filePath string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath != "" {
				draft := in.Draft
				fromFile, err := readBriefFile(filePath)
				if err != nil {
					return err
				}
				in = fromFile
				in.Draft = draft
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				brief, err := e.SubmitBrief(ctx, e.Config.Project.ID, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(brief)
				}
				fmt.Printf("%s %s (%s)\n", brief.DisplayID, brief.Title, brief.Status)
				return nil
			})
		},
	}
	addBriefFlags(cmd, &in)
	cmd.Flags().BoolVar(&in.Draft, "draft", false, "store as draft")
	cmd.Flags().StringVar(&filePath, "file", "", "read the brief from a YAML file")
	return cmd
}

func briefUpdateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the fields of a brief from a YAML file",
		Long:  "Approved briefs are locked; reopen them with `bl brief status <id> in_review` or pass --force.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readBriefFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := briefInProject(ctx, e, args[0]); err != nil {
					return err
				}
				brief, err := e.UpdateBrief(ctx, args[0], in, viper.GetBool("force"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(brief)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "YAML file with the brief fields")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func briefListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List briefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				briefs, err := e.Repo.ListBriefs(ctx, repo.BriefFilters{ProjectID: e.Config.Project.ID, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(briefs)
				}
				tw := newTable("ID", "Title", "Status", "Grade", "Created")
				for _, b := range briefs {
					grade := ""
					if a, err := e.Repo.LatestAssessment(ctx, b.ID); err == nil {
						grade = a.OverallGrade
					}
					tw.AppendRow(table.Row{b.DisplayID, truncate(b.Title, 48), b.Status, grade, b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func briefShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := briefInProject(ctx, e, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				fmt.Printf("%s  %s  [%s]\n", b.DisplayID, b.Title, b.Status)
				fmt.Printf("id: %s  created: %s by %s\n\n", b.ID, b.CreatedAt, b.CreatedBy)
				for _, f := range []struct{ label, value string }{
					{"Objective", b.Objective},
					{"Outcomes", b.Outcomes},
					{"Scope", b.Scope},
					{"Risk of inaction", b.RiskOfInaction},
					{"Happy path", b.HappyPath},
					{"Exceptions", b.Exceptions},
					{"Stakeholders", b.StakeholderImpact},
					{"Departments", b.DepartmentImpact},
					{"Technology", b.TechnologyImpact},
				} {
					if strings.TrimSpace(f.value) != "" {
						fmt.Printf("%s:\n  %s\n", f.label, f.value)
					}
				}
				if len(b.AcceptanceCriteria) > 0 {
					fmt.Println("Acceptance criteria:")
					for _, c := range b.AcceptanceCriteria {
						fmt.Println("  -", c)
					}
				}
				return nil
			})
		},
	}
}

func briefStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a brief to a new status",
		Long:  "Allowed: draft -> submitted -> in_review -> approved|rejected, rejected -> draft. --force permits any move.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := briefInProject(ctx, e, args[0]); err != nil {
					return err
				}
				b, err := e.SetBriefStatus(ctx, args[0], args[1], viper.GetBool("force"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				fmt.Printf("%s is now %s\n", b.DisplayID, b.Status)
				return nil
			})
		},
	}
}

func briefDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a brief; its items are kept as orphans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := briefInProject(ctx, e, args[0])
				if err != nil {
					return err
				}
				orphaned, err := e.DeleteBrief(ctx, b.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": b.ID, "orphaned_items": orphaned})
				}
				fmt.Printf("deleted %s (%d item(s) orphaned)\n", b.DisplayID, orphaned)
				return nil
			})
		},
	}
}

func briefAssessCmd() *cobra.Command {
	var all, useModel bool
	var status string
	cmd := &cobra.Command{
		Use:   "assess [id]",
		Short: "Grade brief quality (heuristic unless --use-model)",
		Long:  "Scores every field green/amber/red. A stored assessment drives routing: green approves a submitted brief, amber or red sends it to review, and a red brief is blocked from generation until approved.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("brief id required (or --all)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var settings *llm.Settings
				if useModel || viper.GetString("provider") != "" || viper.GetString("model") != "" {
					s := modelSettings(e)
					settings = &s
				}
				actor := viper.GetString("actor-id")
				var assessments []domain.Assessment
				if all {
					res, err := e.AssessBriefs(ctx, e.Config.Project.ID, status, settings, actor)
					if err != nil {
						return err
					}
					assessments = res
				} else {
					b, err := briefInProject(ctx, e, args[0])
					if err != nil {
						return err
					}
					a, err := e.AssessBrief(ctx, b.ID, settings, actor)
					if err != nil {
						return err
					}
					assessments = append(assessments, a)
				}
				if viper.GetBool("json") {
					if all {
						return printJSON(assessments)
					}
					return printJSON(assessments[0])
				}
				for _, a := range assessments {
					printAssessment(a)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "assess every brief in the project")
	cmd.Flags().StringVar(&status, "status", "", "with --all, only briefs in this status")
	cmd.Flags().BoolVar(&useModel, "use-model", false, "use the configured model instead of the heuristic")
	return cmd
}

func printAssessment(a domain.Assessment) {
	fmt.Printf("brief %s: %s (%.1f, %s)\n", a.BriefID, strings.ToUpper(a.OverallGrade), a.OverallScore, a.Mode)
	tw := newTable("Field", "Critical", "Score", "Grade", "Feedback")
	for _, f := range a.Fields {
		crit := ""
		if f.Critical {
			crit = "yes"
		}
		tw.AppendRow(table.Row{f.Field, crit, f.Score, f.Grade, truncate(f.Feedback, 60)})
	}
	tw.Render()
	if a.Summary != "" {
		fmt.Println(a.Summary)
	}
	for _, s := range a.Improvements.Critical {
		fmt.Println("  critical:", s)
	}
	for _, s := range a.Improvements.Important {
		fmt.Println("  important:", s)
	}
	if a.ApprovalRequired {
		fmt.Println("approval required before generation")
	}
}

func briefHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List the assessments recorded for a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := briefInProject(ctx, e, args[0])
				if err != nil {
					return err
				}
				history, err := e.Repo.ListAssessments(ctx, b.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := newTable("ID", "Grade", "Score", "Mode", "Approval", "At")
				for _, h := range history {
					tw.AppendRow(table.Row{h.ID, h.OverallGrade, fmt.Sprintf("%.1f", h.OverallScore), h.Mode, h.ApprovalRequired, h.AssessedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// briefInProject loads a brief by id or display id and checks that it
// belongs to the resolved project.
func briefInProject(ctx context.Context, e engine.Engine, id string) (domain.Brief, error) {
	b, err := e.Repo.GetBrief(ctx, id)
	if err != nil {
		return domain.Brief{}, fmt.Errorf("brief %s: %w", id, err)
	}
	if b.ProjectID != e.Config.Project.ID {
		return domain.Brief{}, fmt.Errorf("brief %s: %w", id, repo.ErrNotFound)
	}
	return b, nil
}
