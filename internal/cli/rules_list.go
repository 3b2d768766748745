package cli

import (
	"dqaudit/internal/engine"
	"dqaudit/internal/flags"
	"dqaudit/internal/rules"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rulesListQuiet bool
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage and list rules",
	Long: `Inspect data-quality rules.

This command group helps you discover which rules exist and what each rule counts.
Rules are evaluated during runs (see "dqaudit run --help").

Examples:
  # List all available rules
  dqaudit rules list

  # Include the SQL rules of a rule file
  dqaudit rules list --rules-file configs/rules.example.yaml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available rules",
	Long: `List all rules currently registered in this build.

Rules are sorted by name.

Examples:
  dqaudit rules list
  dqaudit rules list -q

Output:
  A vertical list of rules:
    ----------------------------------------
    RULE: {NAME}
    ----------------------------------------
    {TITLE}
    {DESCRIPTION}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := engine.RuleRegistry(cfg)
		if err != nil {
			return err
		}

		for _, r := range reg.List() {
			if rulesListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), r.Name())
			} else {
				printRule(cmd.OutOrStdout(), r)
			}
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [rule-name]",
	Short: "Show details of a specific rule",
	Long: `Show details of a specific rule by its name.

Examples:
  dqaudit rules show invalid_email_format
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := engine.RuleRegistry(cfg)
		if err != nil {
			return err
		}
		rList, err := reg.Resolve(args[0])
		if err != nil {
			return err
		}
		if len(rList) == 0 {
			return fmt.Errorf("rule not found: %s", args[0])
		}
		printRule(cmd.OutOrStdout(), rList[0])
		return nil
	},
}

func printRule(w io.Writer, r rules.Rule) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "RULE: %s\n", r.Name())
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, r.Title())
	fmt.Fprintln(w, r.Description())

	if cr, ok := r.(rules.ConfigurableRule); ok {
		opts := cr.Options()
		if len(opts) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Options:")
			for _, opt := range opts {
				def := opt.Default
				if def == "" {
					def = "\"\""
				}
				fmt.Fprintf(w, "  %s\n", opt.Name)
				fmt.Fprintf(w, "    Description: %s\n", opt.Description)
				fmt.Fprintf(w, "    Default:     %s\n", def)
			}
		}
	}
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesListCmd.Flags().BoolVarP(&rulesListQuiet, "quiet", "q", false, "Only print rule names")
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.PersistentFlags().StringVar(&cfg.Rules.File, flags.FlagRulesFile, "", "YAML file of additional SQL rules")
}
