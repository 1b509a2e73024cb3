package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dataherd/internal/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage stored cleaning rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rules for the client (plus global rules)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		rules, err := s.RulesForClient(clientContext)
		if err != nil {
			return err
		}
		printRuleTable(rules)
		return nil
	},
}

var rulesPermanentCmd = &cobra.Command{
	Use:   "permanent",
	Short: "List permanent rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		rules, err := s.PermanentRules()
		if err != nil {
			return err
		}
		printRuleTable(rules)
		return nil
	},
}

var rulesSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest recent rules for a new batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		rules, err := s.SuggestRules(clientContext, 10)
		if err != nil {
			return err
		}
		printRuleTable(rules)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete [rule-id]",
	Short: "Deactivate a rule (history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if err := s.DeactivateRule(args[0]); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Deactivated rule " + args[0]))
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [rule-id]",
	Short: "Show one rule in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		rule, err := s.GetRule(args[0])
		if err != nil {
			return err
		}
		printRule(rule)
		fmt.Printf("  used %d time(s), success rate %.0f%%\n",
			rule.UsageCount, rule.SuccessRate*100)
		return nil
	},
}

func printRuleTable(rules []types.Rule) {
	if len(rules) == 0 {
		fmt.Println(dimStyle.Render("No rules."))
		return
	}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, []string{
			r.ID,
			truncate(r.Name, 36),
			string(r.Type),
			r.Condition.Describe(r.Field),
			string(r.Action),
			fmt.Sprintf("%.2f", r.Confidence),
			fmt.Sprintf("%d", r.UsageCount),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "NAME", "TYPE", "WHEN", "ACTION", "CONF", "USED"}, rows))
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesPermanentCmd)
	rulesCmd.AddCommand(rulesSuggestCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}
