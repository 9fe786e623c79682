package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pitabwire/flowbase/internal/entity"
	"github.com/pitabwire/flowbase/internal/entitycontext"
)

func newContextCmd() *cobra.Command {
	var (
		seedFile string
		entityID string
		depth    int
	)

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Render the context of one entity from a seed file",
		Long: `Load entities, entity types and relationships from a YAML seed file and
print the label-keyed context of one entity, following relationships up to
the given depth.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(entityID)
			if err != nil {
				return fmt.Errorf("--entity must be a UUID: %w", err)
			}
			if depth < 0 {
				return fmt.Errorf("--depth must not be negative")
			}

			lookup := entity.NewMemoryLookup()
			if err := lookup.LoadSeedFile(seedFile); err != nil {
				return err
			}

			out, err := entitycontext.NewBuilder(lookup).BuildContext(cmd.Context(), id, depth)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML seed file")
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().IntVar(&depth, "depth", entitycontext.DefaultMaxDepth, "relationship depth")
	_ = cmd.MarkFlagRequired("seed")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}
