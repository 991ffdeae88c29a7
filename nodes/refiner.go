package nodes

import "context"

// RefinerStepSplitter splits a sampler step count between a base and a refiner pass
type RefinerStepSplitter struct{}

func NewRefinerStepSplitter() *RefinerStepSplitter {
	return &RefinerStepSplitter{}
}

func (n *RefinerStepSplitter) InputTypes() InputTypes {
	return InputTypes{
		Required: []Field{
			{Name: "steps", Type: TypeInt, Default: 20, Min: floatPtr(1), Max: floatPtr(200)},
			{Name: "base_ratio", Type: TypeFloat, Default: 0.8, Min: floatPtr(0), Max: floatPtr(1), Step: floatPtr(0.01)},
		},
	}
}

func (n *RefinerStepSplitter) ReturnTypes() []string { return []string{TypeInt, TypeInt} }
func (n *RefinerStepSplitter) ReturnNames() []string { return []string{"steps", "refiner_start"} }
func (n *RefinerStepSplitter) Category() string      { return "sampling/refiner" }
func (n *RefinerStepSplitter) Function() string      { return "split_steps" }
func (n *RefinerStepSplitter) OutputNode() bool      { return false }
func (n *RefinerStepSplitter) Description() string {
	return "Returns the total steps and the step at which the refiner takes over."
}

func (n *RefinerStepSplitter) Execute(_ context.Context, in *Invocation) (*Result, error) {
	steps, err := in.Int("steps")
	if err != nil {
		return nil, err
	}
	ratio, err := in.Float("base_ratio")
	if err != nil {
		return nil, err
	}

	total, start := SplitSteps(steps, ratio)
	return &Result{Outputs: []interface{}{total, start}}, nil
}
