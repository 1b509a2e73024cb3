package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dataherd/internal/compiler"
)

var (
	compileSave      bool
	compilePermanent bool
	compileExplain   bool
)

var compileCmd = &cobra.Command{
	Use:   "compile [rule text]",
	Short: "Compile a natural-language cleaning rule",
	Long: `Compiles plain English into a structured rule, without saving it
unless --save is given.

Example:
  dataherd compile "Flag lots where entry weight is below 500 pounds" --client Elanco --save`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}

		text := strings.Join(args, " ")
		c := newCompiler(s)
		rule, err := c.Compile(cmd.Context(), text, clientContext)
		if err != nil {
			return err
		}
		rule.IsPermanent = compilePermanent

		printRule(rule)
		if compileExplain {
			ex := compiler.ExplainRule(rule)
			fmt.Println(headerStyle.Render("What it does"))
			fmt.Printf("  %s\n", ex.WhatItDoes)
			for _, example := range ex.Examples {
				fmt.Println(dimStyle.Render("  - " + example))
			}
		}

		if compileSave {
			if err := s.SaveRule(rule); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Saved rule " + rule.ID))
		}
		return nil
	},
}

func init() {
	compileCmd.Flags().BoolVar(&compileSave, "save", false, "save the compiled rule")
	compileCmd.Flags().BoolVar(&compilePermanent, "permanent", false, "mark the rule permanent")
	compileCmd.Flags().BoolVar(&compileExplain, "explain", false, "print a plain-language explanation")
}
