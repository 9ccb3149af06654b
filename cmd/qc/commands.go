package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"qcline/internal/domain"
	"qcline/internal/engine"
	"qcline/internal/repo"
)

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{Use: "checklist", Short: "Manage QC checklists"}
	cl.AddCommand(checklistListCmd())
	cl.AddCommand(checklistShowCmd())
	cl.AddCommand(checklistCreateCmd())
	cl.AddCommand(checklistImportCmd())
	cl.AddCommand(checklistStatusCmd("activate", domain.ChecklistActive))
	cl.AddCommand(checklistStatusCmd("deactivate", domain.ChecklistInactive))
	cl.AddCommand(checklistApplicableCmd())
	return cl
}

func printChecklists(items []domain.Checklist) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Mode", "Output", "Pass", "Rework", "Items", "Modules"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Name, c.Type, c.Status, c.ScoringMode, c.OutputType, c.PassThreshold, c.ReworkThreshold, len(c.Items), strings.Join(c.LinkedModules, ",")})
	}
	tw.Render()
	return nil
}

func printChecklist(c domain.Checklist) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	fmt.Printf("%s  %s (%s, %s, %s)\n", c.ID, c.Name, c.Type, c.ScoringMode, c.OutputType)
	fmt.Printf("status %s, pass >= %d, rework >= %d, modules %s\n", c.Status, c.PassThreshold, c.ReworkThreshold, strings.Join(c.LinkedModules, ","))
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Item", "Name", "Severity", "Required", "Weight"})
	for _, it := range c.Items {
		tw.AppendRow(table.Row{it.Position, it.ID, it.Name, it.Severity, it.IsRequired, it.DefaultScore})
	}
	tw.Render()
	return nil
}

func checklistListCmd() *cobra.Command {
	var status, clType, module string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checklists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.Checklists.List(ctx, repo.ChecklistFilter{
					Status: domain.ChecklistStatus(status),
					Type:   domain.ChecklistType(clType),
					Module: module,
				})
				if err != nil {
					return err
				}
				return printChecklists(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active or inactive")
	cmd.Flags().StringVar(&clType, "type", "", "checklist type")
	cmd.Flags().StringVar(&module, "module", "", "linked module")
	return cmd
}

func checklistShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a checklist with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				c, err := e.Checklists.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printChecklist(c)
			})
		},
	}
}

func checklistCreateCmd() *cobra.Command {
	var (
		c                                  domain.Checklist
		clType, status, mode, output       string
		items, requiredItems, criticalItem []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a checklist from flags (use import for full control)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.Type = domain.ChecklistType(clType)
			c.Status = domain.ChecklistStatus(status)
			c.ScoringMode = domain.ScoringMode(mode)
			c.OutputType = domain.OutputType(output)
			for _, name := range items {
				c.Items = append(c.Items, domain.ChecklistItem{Name: name, Severity: domain.SeverityMedium, DefaultScore: 1})
			}
			for _, name := range requiredItems {
				c.Items = append(c.Items, domain.ChecklistItem{Name: name, Severity: domain.SeverityMedium, IsRequired: true, DefaultScore: 1})
			}
			for _, name := range criticalItem {
				c.Items = append(c.Items, domain.ChecklistItem{Name: name, Severity: domain.SeverityHigh, DefaultScore: 1})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				saved, err := e.Checklists.Create(ctx, actor, c)
				if err != nil {
					return err
				}
				return printChecklist(saved)
			})
		},
	}
	cmd.Flags().StringVar(&c.ID, "id", "", "checklist id (generated when empty)")
	cmd.Flags().StringVar(&c.Name, "name", "", "checklist name")
	cmd.Flags().StringVar(&clType, "type", string(domain.TypeContent), "Content, SEO, Web, SMM, Analytics, Backlink, Competitor, Repository or Other")
	cmd.Flags().StringVar(&c.Category, "category", "", "category")
	cmd.Flags().StringVar(&status, "status", string(domain.ChecklistInactive), "active or inactive")
	cmd.Flags().StringVar(&mode, "scoring-mode", string(domain.ScoringBinary), "Binary or Weighted")
	cmd.Flags().StringVar(&output, "output", string(domain.OutputPassReworkFail), "Percentage, PassFail or PassReworkFail")
	cmd.Flags().IntVar(&c.PassThreshold, "pass", 80, "pass threshold (0-100)")
	cmd.Flags().IntVar(&c.ReworkThreshold, "rework", 60, "rework threshold (0-100)")
	cmd.Flags().BoolVar(&c.AutoFailOnRequiredItemFail, "auto-fail-required", false, "fail when a required item fails")
	cmd.Flags().BoolVar(&c.AutoFailOnCriticalItemFail, "auto-fail-critical", false, "fail when a High severity item fails")
	cmd.Flags().StringSliceVar(&c.LinkedModules, "module", nil, "linked module (repeatable)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "item name (repeatable)")
	cmd.Flags().StringArrayVar(&requiredItems, "required-item", nil, "required item name (repeatable)")
	cmd.Flags().StringArrayVar(&criticalItem, "critical-item", nil, "High severity item name (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func checklistImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create or update checklists from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				saved, err := e.Checklists.Import(ctx, actor, data)
				if err != nil {
					return err
				}
				return printChecklists(saved)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "checklists YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func checklistStatusCmd(use string, status domain.ChecklistStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a checklist %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var (
					c   domain.Checklist
					err error
				)
				if status == domain.ChecklistActive {
					c, err = e.Checklists.Activate(ctx, actor, args[0])
				} else {
					c, err = e.Checklists.Deactivate(ctx, actor, args[0])
				}
				if err != nil {
					return err
				}
				return printChecklists([]domain.Checklist{c})
			})
		},
	}
}

func checklistApplicableCmd() *cobra.Command {
	var classification string
	cmd := &cobra.Command{
		Use:   "applicable",
		Short: "Show the checklist that applies to a classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				c, err := e.ChecklistFor(ctx, classification)
				if err != nil {
					return err
				}
				return printChecklist(c)
			})
		},
	}
	cmd.Flags().StringVar(&classification, "classification", "", "asset classification")
	_ = cmd.MarkFlagRequired("classification")
	return cmd
}

func assetCmd() *cobra.Command {
	a := &cobra.Command{Use: "asset", Short: "Create, submit and review assets"}
	a.AddCommand(assetCreateCmd())
	a.AddCommand(assetListCmd())
	a.AddCommand(assetShowCmd())
	a.AddCommand(assetSubmitCmd())
	a.AddCommand(assetReviewCmd())
	a.AddCommand(assetResubmitCmd())
	a.AddCommand(assetReviewsCmd())
	a.AddCommand(assetHistoryCmd())
	return a
}

func printAssets(items []domain.AssetRecord) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Classification", "Status", "Score", "Rework", "Linking", "Updated"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.Title, a.Classification, a.Status, intOrDash(a.QCScore), a.ReworkCount, a.LinkingActive, a.UpdatedAt})
	}
	tw.Render()
	return nil
}

func assetCreateCmd() *cobra.Command {
	var opts engine.CreateAssetOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a Draft asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				opts.Actor = actor
				a, err := e.CreateAsset(ctx, opts)
				if err != nil {
					return err
				}
				return printAssets([]domain.AssetRecord{a})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "asset id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Classification, "classification", "", "application type, e.g. Content or SEO")
	cmd.Flags().StringVar(&opts.DesignedBy, "designed-by", "", "designer actor id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("classification")
	return cmd
}

func assetListCmd() *cobra.Command {
	var f engine.AssetFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.AssetStatus(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListAssets(ctx, actor, f)
				if err != nil {
					return err
				}
				return printAssets(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Classification, "classification", "", "classification filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func assetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.GetAsset(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func assetSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a Draft asset for QC review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.SubmitForQC(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printAssets([]domain.AssetRecord{a})
			})
		},
	}
}

func assetResubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <id>",
		Short: "Resubmit an asset after rework",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.ResubmitForRework(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printAssets([]domain.AssetRecord{a})
			})
		},
	}
}

// buildEvaluations marks every listed item; with allPass the remaining
// checklist items pass.
func buildEvaluations(cl domain.Checklist, pass, fail []string, allPass bool) []domain.ItemEvaluation {
	var out []domain.ItemEvaluation
	seen := map[string]bool{}
	for _, id := range fail {
		out = append(out, domain.ItemEvaluation{ItemID: id, Outcome: domain.ItemFail})
		seen[id] = true
	}
	for _, id := range pass {
		out = append(out, domain.ItemEvaluation{ItemID: id, Outcome: domain.ItemPass})
		seen[id] = true
	}
	if allPass {
		for _, it := range cl.Items {
			if !seen[it.ID] {
				out = append(out, domain.ItemEvaluation{ItemID: it.ID, Outcome: domain.ItemPass})
			}
		}
	}
	return out
}

func outcomeColor(o domain.Outcome) *color.Color {
	switch o {
	case domain.OutcomePass:
		return color.New(color.FgGreen, color.Bold)
	case domain.OutcomeRework:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func assetReviewCmd() *cobra.Command {
	var (
		pass, fail []string
		allPass    bool
		decision   string
		remarks    string
	)
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Submit a QC review for a pending asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var cl domain.Checklist
				if allPass {
					a, err := e.GetAsset(ctx, args[0], actor)
					if err != nil {
						return err
					}
					if cl, err = e.ChecklistFor(ctx, a.Classification); err != nil {
						return err
					}
				}
				res, err := e.SubmitReview(ctx, domain.ReviewSubmission{
					AssetID:           args[0],
					Reviewer:          actor,
					Evaluations:       buildEvaluations(cl, pass, fail, allPass),
					Remarks:           remarks,
					RequestedDecision: domain.RequestedDecision(decision),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s (score %d) -> %s\n", res.Asset.ID, outcomeColor(res.Decision.Outcome).Sprint(res.Decision.Outcome), res.Decision.Score, res.Asset.Status)
				for _, w := range res.Decision.Warnings {
					color.Yellow("warning %s: %s", w.Code, w.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&pass, "pass", nil, "item ids that passed")
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "item ids that failed")
	cmd.Flags().BoolVar(&allPass, "all-pass", false, "mark every item not listed in --fail as passed")
	cmd.Flags().StringVar(&decision, "decision", string(domain.RequestApproved), "Approved, Rejected or Rework")
	cmd.Flags().StringVar(&remarks, "remarks", "", "review remarks")
	return cmd
}

func assetReviewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <id>",
		Short: "Show the review history of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListReviews(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"When", "Reviewer", "Checklist", "Score", "Outcome", "Requested", "From", "To", "Remarks"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.CreatedAt, r.ReviewerID, r.ChecklistID, r.Score, r.Outcome, r.Requested, r.FromStatus, r.ToStatus, r.Remarks})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func assetHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the audit events of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.History(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Actor", "Payload"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func roleCmd() *cobra.Command {
	r := &cobra.Command{Use: "role", Short: "Manage role grants"}
	var actorID, role string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.GrantRole(ctx, actor, actorID, role)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.RevokeRole(ctx, actor, actorID, role)
			})
		},
	}
	for _, c := range []*cobra.Command{grant, revoke} {
		c.Flags().StringVar(&actorID, "actor", "", "actor id")
		c.Flags().StringVar(&role, "role-id", "", "role id from qc.yml")
		_ = c.MarkFlagRequired("actor")
		_ = c.MarkFlagRequired("role-id")
	}
	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List role grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.ListRoleGrants(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Actor", "Role", "Granted"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ActorID, g.RoleID, g.GrantedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filter, "actor", "", "only grants of this actor")
	r.AddCommand(grant, revoke, list)
	return r
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var owner, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				key, raw, err := e.CreateAPIKey(ctx, actor, owner, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": raw})
				}
				fmt.Printf("key %s for %s: %s\n", key.ID, key.ActorID, raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&owner, "for", "", "owner actor id (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key label")

	var listFor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				target := listFor
				switch target {
				case "":
					target = actor.ID
				case "*":
					target = ""
				}
				keys, err := e.ListAPIKeys(ctx, actor, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.ActorID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listFor, "for", "", "owner actor id (defaults to --actor-id, * lists every key)")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.RevokeAPIKey(ctx, actor, args[0])
			})
		},
	}
	k.AddCommand(create, list, revoke)
	return k
}
