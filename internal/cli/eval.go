package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/flowbase/internal/expression"
)

func newEvalCmd() *cobra.Command {
	var (
		expr        string
		contextFile string
		permissive  bool
		showAST     bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Parse and evaluate one expression",
		Long: `Parse an expression and evaluate it against a context document.
The context file may be JSON or YAML; use '-' to read it from stdin.`,
		Example: `  flowbase eval --expr "trigger.amount > 100 AND trigger.region = 'eu'" --context ctx.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []expression.ParseOption
			if permissive {
				opts = append(opts, expression.WithPermissive())
			}
			parsed, err := expression.Parse(expr, opts...)
			if err != nil {
				return err
			}

			out := map[string]any{}
			if showAST {
				out["ast"] = expression.Describe(parsed)
			}

			evalCtx, err := readDocument(cmd.InOrStdin(), contextFile)
			if err != nil {
				return err
			}
			result, err := expression.Evaluate(parsed, evalCtx)
			if err != nil {
				return err
			}
			out["result"] = result
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&expr, "expr", "e", "", "expression to evaluate")
	cmd.Flags().StringVarP(&contextFile, "context", "c", "", "JSON or YAML context file ('-' for stdin)")
	cmd.Flags().BoolVar(&permissive, "permissive", false, "ignore tokens left over after a complete expression")
	cmd.Flags().BoolVar(&showAST, "ast", false, "include the parsed AST in the output")
	_ = cmd.MarkFlagRequired("expr")
	return cmd
}

// readDocument reads a JSON or YAML mapping. An empty path yields an empty
// document.
func readDocument(stdin io.Reader, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return map[string]any{}, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading context: %w", err)
	}

	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing context: %w", err)
	}
	return doc, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
