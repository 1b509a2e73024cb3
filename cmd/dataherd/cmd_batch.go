package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dataherd/internal/engine"
	"dataherd/internal/types"
)

var (
	batchRuleTexts []string
	batchRuleIDs   []string
)

func batchFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&batchRuleTexts, "rule", nil, "ad-hoc rule text (repeatable)")
	cmd.Flags().StringArrayVar(&batchRuleIDs, "rule-id", nil, "stored rule id (repeatable)")
}

// newProcessor wires the batch processor from config.
func newProcessor() (*engine.Processor, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	tieBreak, err := engine.ParseTieBreak(cfg.Engine.TieBreak)
	if err != nil {
		return nil, err
	}
	return engine.NewProcessor(engine.NewEvaluator(),
		engine.WithStorage(s),
		engine.WithLedger(led),
		engine.WithUsageRecorder(s),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithTieBreak(tieBreak),
	), nil
}

// resolveRules gathers the rules for a batch run: explicitly named stored
// rules, compiled ad-hoc texts, or (with neither) every active rule for the
// client.
func resolveRules(cmd *cobra.Command) ([]types.Rule, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}

	var rules []types.Rule
	for _, id := range batchRuleIDs {
		rule, err := s.GetRule(id)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if len(batchRuleTexts) > 0 {
		c := newCompiler(s)
		for _, text := range batchRuleTexts {
			rule, err := c.Compile(cmd.Context(), text, clientContext)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
	}
	if len(rules) == 0 {
		return s.RulesForClient(clientContext)
	}
	return rules, nil
}

var loadCmd = &cobra.Command{
	Use:   "load [batch-id] [file.csv]",
	Short: "Load a record batch from CSV",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		records, err := readBatchCSV(args[1])
		if err != nil {
			return err
		}
		if err := s.InsertRecords(args[0], records); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(
			fmt.Sprintf("Loaded %d record(s) into batch %s", len(records), args[0])))
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [batch-id]",
	Short: "Preview rule effects without applying them",
	Long: `Evaluates rules over the batch and prints the proposed changes.
Nothing is written.

Example:
  dataherd preview B-2026-03 --rule "Flag lots where entry weight is below 500 pounds"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, _, _, err := runPreview(cmd, args[0])
		if err != nil {
			return err
		}
		printChangeSet(cs)
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply [batch-id]",
	Short: "Apply rules to a batch (snapshot first, reversible)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, records, p, err := runPreview(cmd, args[0])
		if err != nil {
			return err
		}
		if len(cs.Entries) == 0 {
			printChangeSet(cs)
			fmt.Println(dimStyle.Render("Nothing to apply."))
			return nil
		}

		result, err := p.Apply(cmd.Context(), cs, records, engine.ApplyOptions{
			ClientContext: clientContext,
		})
		var applyErr *types.ApplyError
		if err != nil && !errors.As(err, &applyErr) {
			return err
		}

		fmt.Println(successStyle.Render(fmt.Sprintf(
			"Applied %d change(s) to batch %s (operation %s)",
			len(result.Applied), result.BatchID, result.OperationID)))
		if result.Cancelled {
			fmt.Println(warnStyle.Render("Apply was cancelled; the applied prefix is kept."))
		}
		for _, f := range result.Failed {
			fmt.Println(errStyle.Render(fmt.Sprintf(
				"  failed %s.%s: %s", f.Entry.LotID, f.Entry.Field, f.Cause)))
		}
		fmt.Println(dimStyle.Render("Roll back with: dataherd rollback " + result.OperationID))
		return nil
	},
}

func runPreview(cmd *cobra.Command, batchID string) (types.ChangeSet, []types.Record, *engine.Processor, error) {
	s, err := openStore()
	if err != nil {
		return types.ChangeSet{}, nil, nil, err
	}
	records, err := s.LoadBatch(batchID)
	if err != nil {
		return types.ChangeSet{}, nil, nil, err
	}
	if len(records) == 0 {
		return types.ChangeSet{}, nil, nil, fmt.Errorf("batch %s has no active records", batchID)
	}

	rules, err := resolveRules(cmd)
	if err != nil {
		return types.ChangeSet{}, nil, nil, err
	}
	p, err := newProcessor()
	if err != nil {
		return types.ChangeSet{}, nil, nil, err
	}
	cs, err := p.Preview(cmd.Context(), batchID, records, rules)
	if err != nil {
		return types.ChangeSet{}, nil, nil, err
	}
	return cs, records, p, nil
}

var historyCmd = &cobra.Command{
	Use:   "history [batch-id]",
	Short: "Show the operation log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := openStore(); err != nil {
			return err
		}
		batchID := ""
		if len(args) == 1 {
			batchID = args[0]
		}
		logs, err := led.History(batchID, 50)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println(dimStyle.Render("No operations recorded."))
			return nil
		}

		rows := make([][]string, 0, len(logs))
		for _, log := range logs {
			detail := fmt.Sprintf("flag:%d chg:%d rm:%d fail:%d",
				log.Counts.Flagged, log.Counts.Changed, log.Counts.Removed, log.FailedCount)
			if log.Kind == types.OpRollback {
				detail = "reverts " + log.RevertsOperation
			}
			rows = append(rows, []string{
				log.OperationID,
				log.BatchID,
				string(log.Kind),
				detail,
				log.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		fmt.Println(renderTable([]string{"OPERATION", "BATCH", "KIND", "DETAIL", "AT"}, rows))
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [operation-id]",
	Short: "Revert an applied operation from its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := openStore(); err != nil {
			return err
		}
		result, err := led.Rollback(cmd.Context(), args[0])
		if err != nil {
			var blocked *types.RollbackBlockedError
			if errors.As(err, &blocked) {
				return fmt.Errorf("%w (nothing was restored)", blocked)
			}
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf(
			"Rolled back operation %s: %d record(s) restored in batch %s",
			result.OperationID, result.RestoredRecords, result.BatchID)))
		return nil
	},
}

func init() {
	batchFlags(previewCmd)
	batchFlags(applyCmd)
}
