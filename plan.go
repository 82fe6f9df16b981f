package utrunner

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/ut-runner/runner"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// Plan lists the runs executed on every scheduler tick, in order
type Plan struct {
	Runs []runner.Request `yaml:"runs"`
}

// LoadPlan reads a YAML run plan
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	if len(plan.Runs) == 0 {
		return nil, errors.New("plan contains no runs")
	}
	for i := range plan.Runs {
		req := &plan.Runs[i]
		req.Scope.Kind = types.ParseScopeKind(string(req.Scope.Kind))
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("plan run %d: %w", i, err)
		}
	}
	return &plan, nil
}
