package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/StricklySoft/messaged/internal/app"
	"github.com/StricklySoft/messaged/pkg/auth"
)

type ruleDecision struct {
	Path        string           `json:"path"`
	Requirement auth.Requirement `json:"requirement"`
}

func rulesCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "rules [path...]",
		Short: "Show the configured path rules, or the decision for each path",
		Long: `Without arguments, rules lists the configured rules in evaluation order.
With arguments, it prints the requirement that applies to each path.
Paths that match no rule are public.

Only server.base_path and auth.rules are read, so the command works
without verifier or session backend settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := app.LoadRuleSet(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return printRules(out, outputFormat, rs.Rules())
			}
			decisions := make([]ruleDecision, 0, len(args))
			for _, p := range args {
				decisions = append(decisions, ruleDecision{Path: p, Requirement: rs.Decide(p)})
			}
			return printDecisions(out, outputFormat, decisions)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func printRules(out io.Writer, format string, rules []auth.Rule) error {
	switch format {
	case "json":
		return outputJSON(out, rules)
	case "table":
		table := tablewriter.NewWriter(out)
		table.Append([]string{"#", "Pattern", "Requirement"})
		for i, r := range rules {
			table.Append([]string{fmt.Sprintf("%d", i+1), r.Pattern, r.Requirement.String()})
		}
		table.Append([]string{"-", "(no match)", auth.DefaultRequirement.String()})
		table.Render()
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func printDecisions(out io.Writer, format string, decisions []ruleDecision) error {
	switch format {
	case "json":
		return outputJSON(out, decisions)
	case "table":
		table := tablewriter.NewWriter(out)
		table.Append([]string{"Path", "Requirement"})
		for _, d := range decisions {
			table.Append([]string{d.Path, d.Requirement.String()})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
