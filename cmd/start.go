package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// executionPlan is the YAML shape accepted by --plan.
type executionPlan struct {
	Phases    []string                 `yaml:"phases"`
	Trigger   string                   `yaml:"trigger"`
	Overrides map[string]phaseOverride `yaml:"overrides"`
}

// phaseOverride carries per-phase parameter overrides from a plan file.
// Pointer fields distinguish "not set" from a zero value, so a plan may
// override a single knob and inherit the rest from configuration.
type phaseOverride struct {
	Enabled          *bool    `yaml:"enabled"`
	TimeoutSecs      *int     `yaml:"timeout_secs"`
	Concurrency      *int     `yaml:"concurrency"`
	SuccessThreshold *float64 `yaml:"success_threshold"`
	MinSuccesses     *int     `yaml:"min_successes"`
	MaxItemAttempts  *int     `yaml:"max_item_attempts"`
	Critical         *bool    `yaml:"critical"`
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a pipeline execution and run it to completion",
	Long:  "Creates an execution for the selected phases (all nine by default) and drives it to a terminal status. Phase selection comes from --phases or a YAML plan file; a plan may also override per-phase parameters for this run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		phasesFlag, _ := cmd.Flags().GetString("phases")
		planPath, _ := cmd.Flags().GetString("plan")
		trigger, _ := cmd.Flags().GetString("trigger")
		items, _ := cmd.Flags().GetInt("simulate-items")

		phases, trig, overrides, err := resolvePlan(phasesFlag, planPath, trigger)
		if err != nil {
			return err
		}
		if err := applyPhaseOverrides(cfg, overrides); err != nil {
			return err
		}

		eng, st, err := initEngine(ctx, simulationRunners(items))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exec, err := eng.Run(ctx, trig, phases)
		if err != nil {
			return eris.Wrap(err, "start")
		}

		fmt.Fprintf(os.Stdout, "execution %s finished: %s\n", exec.ID, exec.Status)
		if exec.Status != model.ExecutionCompleted {
			os.Exit(1)
		}
		return nil
	},
}

// resolvePlan merges the --phases flag, the plan file, and the trigger flag.
// The flag wins over the plan file for both fields; per-phase overrides only
// ever come from the plan file.
func resolvePlan(phasesFlag, planPath, trigger string) ([]model.PhaseName, model.TriggerMode, map[string]phaseOverride, error) {
	var plan executionPlan
	if planPath != "" {
		raw, err := os.ReadFile(planPath)
		if err != nil {
			return nil, "", nil, eris.Wrapf(err, "read plan %s", planPath)
		}
		if err := yaml.Unmarshal(raw, &plan); err != nil {
			return nil, "", nil, eris.Wrapf(err, "parse plan %s", planPath)
		}
	}

	names := plan.Phases
	if phasesFlag != "" {
		names = strings.Split(phasesFlag, ",")
	}
	phases := make([]model.PhaseName, 0, len(names))
	for _, n := range names {
		phases = append(phases, model.PhaseName(strings.TrimSpace(n)))
	}

	trig := model.TriggerManual
	switch {
	case trigger != "":
		trig = model.TriggerMode(trigger)
	case plan.Trigger != "":
		trig = model.TriggerMode(plan.Trigger)
	}
	if trig != model.TriggerManual && trig != model.TriggerScheduled {
		return nil, "", nil, eris.Errorf("unknown trigger mode %q", trig)
	}
	return phases, trig, plan.Overrides, nil
}

// applyPhaseOverrides folds plan overrides into the phase configuration and
// re-validates, so a plan cannot smuggle in parameters the config layer would
// have rejected.
func applyPhaseOverrides(cfg *config.Config, overrides map[string]phaseOverride) error {
	if len(overrides) == 0 {
		return nil
	}
	for name, ov := range overrides {
		if !model.ValidPhase(model.PhaseName(name)) {
			return eris.Errorf("plan: unknown phase %q in overrides", name)
		}
		pc := cfg.Phases[name]
		if ov.Enabled != nil {
			pc.Enabled = *ov.Enabled
		}
		if ov.TimeoutSecs != nil {
			pc.TimeoutSecs = *ov.TimeoutSecs
		}
		if ov.Concurrency != nil {
			pc.Concurrency = *ov.Concurrency
		}
		if ov.SuccessThreshold != nil {
			pc.SuccessThreshold = *ov.SuccessThreshold
		}
		if ov.MinSuccesses != nil {
			pc.MinSuccesses = *ov.MinSuccesses
		}
		if ov.MaxItemAttempts != nil {
			pc.MaxItemAttempts = *ov.MaxItemAttempts
		}
		if ov.Critical != nil {
			pc.Critical = *ov.Critical
		}
		cfg.Phases[name] = pc
	}
	return cfg.Validate()
}

func init() {
	startCmd.Flags().String("phases", "", "comma-separated phase subset (default all nine)")
	startCmd.Flags().String("plan", "", "YAML plan file with phases, trigger, and per-phase overrides")
	startCmd.Flags().String("trigger", "", "trigger mode: manual or scheduled")
	startCmd.Flags().Int("simulate-items", 5, "synthetic items per phase for the built-in runners")
	rootCmd.AddCommand(startCmd)
}
