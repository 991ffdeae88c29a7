package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/webhook"
	"go.uber.org/zap"
)

var (
	ErrUnknownNode  = errors.New("unknown node")
	ErrMissingInput = errors.New("missing required input")
)

// Node is a single unit of work the host can place in a graph
type Node interface {
	InputTypes() InputTypes
	ReturnTypes() []string
	ReturnNames() []string
	Category() string
	Function() string
	OutputNode() bool
	Description() string
	Execute(ctx context.Context, in *Invocation) (*Result, error)
}

// Hidden carries the values the host injects without a widget
type Hidden struct {
	Prompt       map[string]interface{} `json:"prompt,omitempty"`
	ExtraPNGInfo map[string]interface{} `json:"extra_pnginfo,omitempty"`
	PromptID     string                 `json:"prompt_id,omitempty"`
}

// Invocation is everything the host passes to a node's entry point
type Invocation struct {
	Images imagebatch.Batch
	Values map[string]interface{}
	Hidden Hidden

	schema InputTypes
}

// NewInvocation binds input values to a node's schema so getters can apply defaults
func NewInvocation(n Node, images imagebatch.Batch, values map[string]interface{}, hidden Hidden) *Invocation {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Invocation{
		Images: images,
		Values: values,
		Hidden: hidden,
		schema: n.InputTypes(),
	}
}

func (in *Invocation) lookup(name string) (interface{}, bool) {
	if v, ok := in.Values[name]; ok && v != nil {
		return v, true
	}
	if f, ok := in.schema.Field(name); ok && f.Default != nil {
		return f.Default, true
	}
	return nil, false
}

// String returns a string input, falling back to the schema default and then ""
func (in *Invocation) String(name string) string {
	v, ok := in.lookup(name)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

// Int coerces an input to int the way the host does for INT widgets
func (in *Invocation) Int(name string) (int, error) {
	v, ok := in.lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingInput, name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int(f), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("input %s is not an integer: %v", name, v)
}

// Float coerces an input to float64
func (in *Invocation) Float(name string) (float64, error) {
	v, ok := in.lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingInput, name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("input %s is not a number: %v", name, v)
}

// Result is what a node hands back: positional outputs matching ReturnTypes,
// and an optional UI payload for output nodes.
type Result struct {
	Outputs []interface{}          `json:"outputs"`
	UI      map[string]interface{} `json:"ui,omitempty"`
}

// Deps are the host services and clients nodes are built with
type Deps struct {
	Paths           *folderpaths.Paths
	Resolver        folderpaths.Resolver // defaults to Paths
	Webhook         *webhook.Client
	Logger          *zap.Logger
	DisableMetadata bool
}

// NewDeps builds Deps with a webhook client sharing the logger
func NewDeps(paths *folderpaths.Paths, timeout time.Duration, logger *zap.Logger) Deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Deps{
		Paths:    paths,
		Resolver: paths,
		Webhook:  webhook.NewClient(timeout, logger),
		Logger:   logger,
	}
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Paths == nil {
		d.Paths = folderpaths.NewPaths("output", "temp")
	}
	if d.Resolver == nil {
		d.Resolver = d.Paths
	}
	if d.Webhook == nil {
		d.Webhook = webhook.NewClient(0, d.Logger)
	}
	return d
}

// SplitSteps returns (steps, floor(steps*baseRatio)). The ratio is not clamped.
func SplitSteps(steps int, baseRatio float64) (int, int) {
	return steps, int(math.Floor(float64(steps) * baseRatio))
}
