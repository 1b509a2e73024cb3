// Command dataherd is the operator CLI for the cattle-lot record cleaning
// core: compile rules from natural language, preview and apply them over
// batches, and roll back applied operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dataherd/internal/compiler"
	"dataherd/internal/config"
	"dataherd/internal/ledger"
	"dataherd/internal/logging"
	"dataherd/internal/store"
)

var (
	// Global flags
	cfgPath       string
	clientContext string
	verbose       bool

	cfg *config.Config
	db  *store.Store
	led *ledger.Ledger
)

var rootCmd = &cobra.Command{
	Use:   "dataherd",
	Short: "DataHerd - cattle lot record cleaning",
	Long: `DataHerd cleans cattle-lot record batches with natural-language rules.

Rules are compiled from plain English ("Flag lots where entry weight is
below 500 pounds"), previewed without side effects, applied with a full
before-image snapshot, and reversible down to the single operation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logging.Initialize(cfg.DataDir(), logging.Options{
			Enabled: cfg.Logging.Enabled || verbose,
			Level:   cfg.Logging.Level,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
		logging.CloseAll()
	},
}

// openStore opens the configured database on first use.
func openStore() (*store.Store, error) {
	if db != nil {
		return db, nil
	}
	s, err := store.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db = s
	led = ledger.NewLedger(s.GetDB())
	return db, nil
}

// newCompiler wires the rule compiler: LLM client when an API key is
// configured, pattern fallback otherwise.
func newCompiler(src compiler.ClientRuleSource) *compiler.Compiler {
	opts := []compiler.Option{
		compiler.WithTimeout(cfg.LLMTimeout()),
	}
	if src != nil {
		opts = append(opts, compiler.WithClientRuleSource(src))
	}
	if cfg.LLM.APIKey != "" {
		opts = append(opts, compiler.WithClient(compiler.NewChatClient(compiler.ChatConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLMTimeout(),
			Retries: cfg.LLM.Retries,
		})))
	}
	return compiler.New(opts...)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "dataherd.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&clientContext, "client", "", "client context for rule scoping")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
