// Command rlm is the CLI entrypoint for the Recursive Language Model
// runtime, grounded on the teacher's cobra usage pattern
// (None9527-NGOClaw's gateway/cmd/cli/main.go: one root command with a
// Run/RunE subcommand tree and flag-driven overrides).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rlmrun/rlm/internal/config"
	"github.com/rlmrun/rlm/internal/observability"
	"github.com/rlmrun/rlm/internal/rlm"
	"github.com/rlmrun/rlm/internal/rlm/plan"
	"github.com/rlmrun/rlm/internal/rlm/planned"
	"github.com/rlmrun/rlm/internal/rlm/provider"
	anthropicprovider "github.com/rlmrun/rlm/internal/rlm/provider/anthropic"
	openaiprovider "github.com/rlmrun/rlm/internal/rlm/provider/openai"
)

const cliName = "rlm"

func main() {
	var configPath string
	var traceJSONPath string

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "Recursive Language Model runtime",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&traceJSONPath, "trace-json", "", "write the Trace event list as JSON to this path after running")

	rootCmd.AddCommand(newRunCmd(&configPath, &traceJSONPath))
	rootCmd.AddCommand(newPlanCmd(&configPath))
	rootCmd.AddCommand(newImproveCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd(configPath, traceJSONPath *string) *cobra.Command {
	var promptPath string
	var task string
	var useHybrid bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Root Loop once against a prompt document, in single mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.Log.Path, cfg.Log.Level)
			if cfg.OTel.Enabled {
				observability.InitTracerProvider(cfg.OTel.ServiceName, false)
			}

			promptBytes, err := readPromptSource(promptPath, args)
			if err != nil {
				return err
			}

			prov, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			profile := cfg.RootLoop.Profile
			if useHybrid {
				profile = "hybrid"
			}

			rootLoop := rlm.NewRootLoop(prov, rlm.RootLoopOptions{
				EnableEarlyStopHeuristic:        true,
				EnableHeuristicPostprocess:      profile == "hybrid",
				RequirePromptReadBeforeFinalize: cfg.RootLoop.RequirePromptReadBeforeFinalize,
				Logger:                          log.Logger,
				Tracer:                          tracerOrNil(cfg),
			})

			budget := rlm.NewBudget()
			if o := cfg.Budget.ToOverrides(); o != nil {
				budget.ApplyOverrides(o)
			}
			env := rlm.NewEnvironment(string(promptBytes), nil, budget)

			final, err := rootLoop.Run(context.Background(), env, task)
			if err != nil {
				return err
			}
			fmt.Println(final)

			return maybeWriteTraceJSON(*traceJSONPath, env)
		},
	}
	cmd.Flags().StringVar(&promptPath, "prompt-file", "", "path to the prompt document (defaults to stdin)")
	cmd.Flags().StringVar(&task, "task", "", "the task/objective text for the Root Loop")
	cmd.Flags().BoolVar(&useHybrid, "hybrid", false, "force the hybrid profile's heuristic postprocess on")
	return cmd
}

func newPlanCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [user input]",
		Short: "Run the Planner once and print the resulting Plan as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.Log.Path, cfg.Log.Level)

			prov, err := buildProvider(cfg)
			if err != nil {
				return err
			}
			planner := plan.New(prov)

			userInput := joinArgs(args)
			pl, err := planner.Plan(context.Background(), userInput)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(pl, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
	return cmd
}

func newImproveCmd(configPath *string) *cobra.Command {
	var promptPath string

	cmd := &cobra.Command{
		Use:   "improve [user input]",
		Short: "Plan a request and execute it via the Planned Executor (single or long_run)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.Log.Path, cfg.Log.Level)

			prov, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			planner := plan.New(prov)
			userInput := joinArgs(args)
			pl, err := planner.Plan(context.Background(), userInput)
			if err != nil {
				return err
			}

			rootLoop := rlm.NewRootLoop(prov, rlm.RootLoopOptions{
				EnableEarlyStopHeuristic:        true,
				EnableHeuristicPostprocess:      pl.Profile == plan.ProfileHybrid,
				RequirePromptReadBeforeFinalize: cfg.RootLoop.RequirePromptReadBeforeFinalize,
				Logger:                          log.Logger,
				Tracer:                          tracerOrNil(cfg),
			})
			executor := planned.New(rootLoop, planned.Options{BaseBudgetOverrides: cfg.Budget.ToOverrides()})

			promptBytes, err := readPromptSource(promptPath, nil)
			if err != nil {
				return err
			}
			budget := rlm.NewBudget()
			env := rlm.NewEnvironment(string(promptBytes), nil, budget)

			result, err := executor.Execute(context.Background(), env, pl)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&promptPath, "prompt-file", "", "path to the prompt document (defaults to stdin)")
	return cmd
}

func buildProvider(cfg *config.Config) (provider.LMProvider, error) {
	switch cfg.Provider.Backend {
	case "anthropic":
		return anthropicprovider.New(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model), nil
	case "openai", "":
		return openaiprovider.New(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model), nil
	default:
		return nil, fmt.Errorf("rlm: unknown provider backend %q", cfg.Provider.Backend)
	}
}

func tracerOrNil(cfg *config.Config) *observability.Tracer {
	if !cfg.OTel.Enabled {
		return nil
	}
	return observability.NewTracer("rlm.rootloop")
}

func readPromptSource(path string, trailingArgs []string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	if len(trailingArgs) > 0 {
		return []byte(joinArgs(trailingArgs)), nil
	}
	return os.ReadFile("/dev/stdin")
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func maybeWriteTraceJSON(path string, env *rlm.Environment) error {
	if path == "" {
		return nil
	}
	b, err := json.MarshalIndent(env.Trace.Events(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
