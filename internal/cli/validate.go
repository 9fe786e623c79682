package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/flowbase/internal/definition"
	"github.com/pitabwire/flowbase/internal/expression"
)

func newValidateCmd() *cobra.Command {
	var (
		dirs       []string
		actions    []string
		permissive bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate workflow definitions",
		Long: `Load every *.yaml and *.yml file under the given directories and check
workflow structure, node transitions, condition syntax, template syntax and
query filters. Every problem is reported, not just the first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			files, err := definition.NewLoader().LoadAll(dirs)
			if err != nil {
				return err
			}

			validator := definition.NewValidator(actions...)
			if permissive {
				validator.WithExpressionOptions(expression.WithPermissive())
			}
			verrs := validator.Validate(files)
			for _, ve := range verrs {
				fmt.Fprintf(out, "%s [%s] %s\n", ve.Path, ve.Code, ve.Message)
			}
			if len(verrs) > 0 {
				return fmt.Errorf("%d validation errors", len(verrs))
			}

			registry := definition.NewRegistry(files)
			fmt.Fprintf(out, "ok: %d workflows in %d files (checksum %s)\n",
				registry.Count(), len(registry.Files()), registry.Checksum())
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&dirs, "dir", "d", []string{"definitions"}, "definition directories")
	cmd.Flags().BoolVar(&permissive, "permissive", false, "accept conditions with tokens left over after a complete expression")
	cmd.Flags().StringSliceVar(&actions, "actions", []string{"echo", "webhook"}, "registered action names; empty accepts any")
	return cmd
}
