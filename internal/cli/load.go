package cli

import (
	"dqaudit/internal/dataset"
	"dqaudit/internal/flags"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loadCSV string

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the raw customers CSV into the dataset database",
	Long: `Load replaces the contents of the customers table with the rows of a CSV
file. Empty cells become NULL; dates are YYYY-MM-DD.

Required columns: customer_id, name, email, phone_number, signup_date,
country, last_active.

Examples:
	dqaudit load --csv data/raw/customers_raw.csv
	dqaudit load --csv customers.csv --dsn postgres://dq@localhost/dq`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadCSV == "" {
			return errors.New("--csv must be provided")
		}
		if err := prepare(cmd); err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		f, err := os.Open(loadCSV)
		if err != nil {
			return err
		}
		defer f.Close()

		db, err := dataset.Open(cfg.Dataset.DSN, dataset.WithTable(cfg.Dataset.Table), dataset.WithQueryLog(cfg.Runtime.Verbose))
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.LoadCustomersCSV(ctx, f)
		if err != nil {
			return fmt.Errorf("load %s: %w", loadCSV, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d rows into %s.\n", n, db.Table())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	bindDatasetFlags(loadCmd)
	loadCmd.Flags().StringVar(&loadCSV, flags.FlagCSV, "", "Customers CSV file to load")
}
