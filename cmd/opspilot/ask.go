package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opspilot/internal/plan"
	"opspilot/internal/runner"
	"opspilot/internal/selector"
	"opspilot/internal/toolreg"
	"opspilot/internal/transport"
)

func newAskCommand(cli *CLI) *cobra.Command {
	var (
		planFile string
		intent   string
		keywords []string
		view     string
		depth    int
		query    string
		strategy string
		tenant   string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Execute a query plan and print the composed answer",
		Long: `Execute a typed query plan. The plan comes either from a JSON file
(--plan) or from the quick flags (--intent, --keywords, --view, --query).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := ""
			if len(args) > 0 {
				question = args[0]
			}

			p, err := resolvePlan(planFile, intent, keywords, view, depth, query)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			rc, err := cli.runner.Run(ctx, runner.Request{
				TenantID: tenant,
				Question: question,
				Plan:     p,
				Strategy: selector.Strategy(strategy),
			})
			if err != nil {
				printRunContext(cli, rc)
				return err
			}
			printRunContext(cli, rc)
			return nil
		},
	}

	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "Path to a JSON plan file")
	cmd.Flags().StringVar(&intent, "intent", "LOOKUP", "Plan intent (LOOKUP, AGGREGATE, METRIC, HISTORY, GRAPH, DOCUMENT, MIXED)")
	cmd.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "Lookup keywords")
	cmd.Flags().StringVar(&view, "view", "", "Graph view (SUMMARY, COMPOSITION, DEPENDENCY, IMPACT, PATH, NEIGHBORS)")
	cmd.Flags().IntVar(&depth, "depth", 0, "Graph traversal depth (0 uses the view default)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Document search query")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", string(selector.StrategyMostAccurate), "Selection strategy")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	return cmd
}

// resolvePlan builds the plan from a file or from the quick flags.
func resolvePlan(planFile, intent string, keywords []string, view string, depth int, query string) (*plan.Plan, error) {
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, fmt.Errorf("read plan file: %w", err)
		}
		var p plan.Plan
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
		return &p, nil
	}

	p := &plan.Plan{Intent: plan.Intent(strings.ToUpper(intent))}
	if len(keywords) > 0 {
		p.Primary = &plan.PrimarySpec{Keywords: keywords}
	}
	if view != "" {
		p.Graph = &plan.GraphSpec{View: strings.ToUpper(view), Depth: depth}
	}
	if query != "" {
		p.Document = &plan.DocumentSpec{Query: query}
	}
	return p, nil
}

func printRunContext(cli *CLI, rc *runner.RunContext) {
	if rc == nil {
		return
	}

	switch rc.Status {
	case runner.StatusSuccess:
		fmt.Println(green("✔ " + string(rc.Status)))
	case runner.StatusPartial:
		fmt.Println(yellow("◐ " + string(rc.Status)))
	default:
		fmt.Println(red("✘ " + string(rc.Status)))
	}

	for _, block := range rc.Blocks {
		title := block.Title
		if title == "" {
			title = block.Kind
		}
		switch block.Kind {
		case "notice":
			fmt.Printf("\n%s\n", yellow(bold(title)))
		default:
			fmt.Printf("\n%s\n", cyan(bold(title)))
		}
		printPayload(block.Payload, "  ")
	}

	for _, err := range rc.ExecutionErrors {
		fmt.Printf("\n%s %s\n", red("error:"), err)
	}

	if cli.verbose {
		fmt.Printf("\n%s\n", gray(bold("diagnostics")))
		fmt.Printf("  %s %s\n", gray("trace_id:"), gray(rc.TraceID))
		fmt.Printf("  %s %s\n", gray("request_id:"), gray(rc.RequestID))
		for _, stage := range []string{
			runner.StageRoutePlan, runner.StageValidate, runner.StageExecute,
			runner.StageCompose, runner.StagePresent,
		} {
			if d, ok := rc.PhaseTimes[stage]; ok {
				fmt.Printf("  %s %s\n", gray(stage+":"), gray(d.String()))
			}
		}
		for _, span := range rc.Spans.Spans() {
			fmt.Printf("  %s %s (%dms)\n", gray("span:"), gray(span.Name), span.DurationMillis)
		}
	}
}

func printPayload(payload map[string]any, indent string) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s%s %v\n", indent, gray(k+":"), payload[k])
	}
}

// registerFleet registers the demo tool fleet over the given transport.
func registerFleet(registry *toolreg.Registry, t transport.Transport) error {
	fleet := []struct {
		name     string
		toolType toolreg.ToolType
	}{
		{"cmdb_lookup", toolreg.TypeCILookup},
		{"cmdb_search", toolreg.TypeFulltextSearch},
		{"cmdb_aggregate", toolreg.TypeCIAggregate},
		{"metric_store", toolreg.TypeMetricQuery},
		{"change_history", toolreg.TypeHistoryQuery},
		{"graph_walker", toolreg.TypeGraphTraversal},
		{"doc_retriever", toolreg.TypeDocumentSearch},
		{"fulltext_lookup", toolreg.TypeFulltextSearch},
	}
	for _, f := range fleet {
		if err := registry.Register(toolreg.NewTransportTool(f.name, f.toolType, t)); err != nil {
			return err
		}
	}
	return nil
}
