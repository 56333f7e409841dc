// Package registry holds the catalogue of claim processing stages and derives per-strategy plans.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/stages"
)

var (
	ErrDuplicateStage    = errors.New("stage already registered")
	ErrInvalidSpec       = errors.New("invalid stage spec")
	ErrUnknownDependency = errors.New("unknown stage dependency")
	ErrCycle             = errors.New("stage dependency cycle")
	ErrNoMandatoryStage  = errors.New("strategy has no mandatory stage")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrNotValidated      = errors.New("registry has not been validated")
)

// Spec declares a stage and how it takes part in each strategy.
//
// A stage listed in CollapsedFor is not invoked under that strategy; Collapse writes its
// default section instead and the outcome is recorded as skipped. SoftDependsOn edges may be
// speculated under strategies that allow it; everywhere else they behave like DependsOn.
type Spec struct {
	Name          string
	Stage         stages.Stage
	RequiredFor   []models.Strategy
	OptionalFor   []models.Strategy
	CollapsedFor  []models.Strategy
	Collapse      func(models.ClaimContext) models.ClaimContext
	DependsOn     []string
	SoftDependsOn []string
}

// Participates reports whether the stage appears in the plan for the strategy.
func (s Spec) Participates(strategy models.Strategy) bool {
	return slices.Contains(s.RequiredFor, strategy) ||
		slices.Contains(s.OptionalFor, strategy) ||
		slices.Contains(s.CollapsedFor, strategy)
}

// PlannedStage is one step of a strategy plan.
type PlannedStage struct {
	Spec
	Mandatory bool
	Collapsed bool
}

type Registry struct {
	logger    *slog.Logger
	specs     map[string]Spec
	order     []string
	validated bool
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log.With("module", "registry"),
		specs:  make(map[string]Spec),
	}
}

// Register adds a stage spec. Registration order breaks ties between independent stages.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" || spec.Stage == nil {
		return fmt.Errorf("%w: name and stage are required", ErrInvalidSpec)
	}

	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, spec.Name)
	}

	r.specs[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	r.validated = false

	r.logger.Debug("Registered stage", "stage", spec.Name, "depends_on", spec.DependsOn, "soft_depends_on", spec.SoftDependsOn)

	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	spec, ok := r.specs[name]

	return spec, ok
}

// Names lists the registered stages in topological order once validated, registration order otherwise.
func (r *Registry) Names() []string {
	if r.validated {
		if ordered, err := r.topological(r.order); err == nil {
			return ordered
		}
	}

	return slices.Clone(r.order)
}

// Validate checks the catalogue: dependencies exist, the graph is acyclic, every strategy has at
// least one mandatory stage and every planned stage's hard dependencies are planned too.
func (r *Registry) Validate() error {
	for _, name := range r.order {
		spec := r.specs[name]

		for _, strategy := range spec.RequiredFor {
			if slices.Contains(spec.OptionalFor, strategy) || slices.Contains(spec.CollapsedFor, strategy) {
				return fmt.Errorf("%w: %s has conflicting roles for %s", ErrInvalidSpec, name, strategy)
			}
		}

		if len(spec.CollapsedFor) > 0 && spec.Collapse == nil {
			return fmt.Errorf("%w: %s is collapsed without a Collapse func", ErrInvalidSpec, name)
		}

		for _, dep := range slices.Concat(spec.DependsOn, spec.SoftDependsOn) {
			if dep == name {
				return fmt.Errorf("%w: %s depends on itself", ErrCycle, name)
			}

			if _, ok := r.specs[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
		}
	}

	if _, err := r.topological(r.order); err != nil {
		return err
	}

	for _, strategy := range models.Strategies() {
		mandatory := 0

		for _, name := range r.order {
			spec := r.specs[name]
			if !spec.Participates(strategy) {
				continue
			}

			if slices.Contains(spec.RequiredFor, strategy) {
				mandatory++
			}

			for _, dep := range spec.DependsOn {
				if !r.specs[dep].Participates(strategy) {
					return fmt.Errorf("%w: %s needs %s which is not planned for %s", ErrUnknownDependency, name, dep, strategy)
				}
			}
		}

		if mandatory == 0 {
			return fmt.Errorf("%w: %s", ErrNoMandatoryStage, strategy)
		}
	}

	r.validated = true

	r.logger.Info("Stage registry validated", "stages", len(r.order))

	return nil
}

// Plan returns the stages taking part in the strategy, dependencies first.
func (r *Registry) Plan(strategy models.Strategy) ([]PlannedStage, error) {
	if !r.validated {
		return nil, ErrNotValidated
	}

	switch strategy {
	case models.StrategyFastTrack, models.StrategyParallel, models.StrategySequential:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	var names []string

	for _, name := range r.order {
		if r.specs[name].Participates(strategy) {
			names = append(names, name)
		}
	}

	ordered, err := r.topological(names)
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedStage, 0, len(ordered))

	for _, name := range ordered {
		spec := r.specs[name]
		plan = append(plan, PlannedStage{
			Spec:      spec,
			Mandatory: slices.Contains(spec.RequiredFor, strategy),
			Collapsed: slices.Contains(spec.CollapsedFor, strategy),
		})
	}

	return plan, nil
}

// topological orders names with Kahn's algorithm over hard and soft edges between them.
// Ready stages are taken in registration order.
func (r *Registry) topological(names []string) ([]string, error) {
	inDegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))

	for _, name := range names {
		inDegree[name] = 0
	}

	for _, name := range names {
		spec := r.specs[name]

		for _, dep := range slices.Concat(spec.DependsOn, spec.SoftDependsOn) {
			if _, ok := inDegree[dep]; !ok {
				continue
			}

			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string

	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	ordered := make([]string, 0, len(names))

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, name)

		for _, next := range dependents[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(names) {
		var stuck []string

		for _, name := range names {
			if inDegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}

		return nil, fmt.Errorf("%w: %v", ErrCycle, stuck)
	}

	return ordered, nil
}
