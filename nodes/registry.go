package nodes

import (
	"context"
	"fmt"

	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
)

type entry struct {
	name        string
	displayName string
	node        Node
}

// Registry is the ordered name -> node and name -> display name table the host reads
type Registry struct {
	entries []entry
	byName  map[string]int
}

func NewEmptyRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// NewRegistry registers every node this package provides
func NewRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()

	r := NewEmptyRegistry()
	r.Register("ImageCreationNotifier", "Image Creation Notifier", NewImageCreationNotifier(deps))
	r.Register("ImageWebhookNotifier", "Image Webhook Notifier (Base64)", NewImageWebhookNotifier(deps))
	r.Register("SaveImageWebhook", "Save Image + Webhook", NewSaveImageWebhook(deps))
	r.Register("RefinerStepSplitter", "Refiner Step Splitter", NewRefinerStepSplitter())
	return r
}

// Register adds or replaces a node. Replacing keeps the original position.
func (r *Registry) Register(name, displayName string, n Node) {
	if i, ok := r.byName[name]; ok {
		r.entries[i] = entry{name: name, displayName: displayName, node: n}
		return
	}
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, entry{name: name, displayName: displayName, node: n})
}

func (r *Registry) Lookup(name string) (Node, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.entries[i].node, true
}

func (r *Registry) DisplayName(name string) string {
	i, ok := r.byName[name]
	if !ok {
		return ""
	}
	return r.entries[i].displayName
}

// Names returns node names in registration order
func (r *Registry) Names() []string {
	retv := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		retv = append(retv, e.name)
	}
	return retv
}

// Info describes a registered node in the host's object_info form
func (r *Registry) Info(name string) (*NodeInfo, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	e := r.entries[i]
	it := e.node.InputTypes()
	outputs := e.node.ReturnTypes()

	return &NodeInfo{
		Input: it,
		InputOrder: InputOrder{
			Required: names(it.Required),
			Optional: names(it.Optional),
			Hidden:   names(it.Hidden),
		},
		Output:       outputs,
		OutputIsList: make([]bool, len(outputs)),
		OutputName:   e.node.ReturnNames(),
		Name:         e.name,
		DisplayName:  e.displayName,
		Description:  e.node.Description(),
		Category:     e.node.Category(),
		OutputNode:   e.node.OutputNode(),
		Function:     e.node.Function(),
	}, nil
}

// ObjectInfo returns the info of every registered node keyed by name
func (r *Registry) ObjectInfo() map[string]*NodeInfo {
	retv := make(map[string]*NodeInfo, len(r.entries))
	for _, e := range r.entries {
		info, _ := r.Info(e.name)
		retv[e.name] = info
	}
	return retv
}

// Execute runs a node by name with the given inputs
func (r *Registry) Execute(ctx context.Context, name string, images imagebatch.Batch, values map[string]interface{}, hidden Hidden) (*Result, error) {
	n, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	schema := n.InputTypes()
	if err := checkRequired(&schema, images, values); err != nil {
		return nil, err
	}
	return n.Execute(ctx, NewInvocation(n, images, values, hidden))
}

// checkRequired rejects a run with a required input left out, as the host
// does when validating a prompt. Schema defaults only fill optional inputs.
func checkRequired(schema *InputTypes, images imagebatch.Batch, values map[string]interface{}) error {
	for _, f := range schema.Required {
		if f.Type == TypeImage {
			if len(images) == 0 {
				return fmt.Errorf("%w: %s", ErrMissingInput, f.Name)
			}
			continue
		}
		if v, ok := values[f.Name]; !ok || v == nil {
			return fmt.Errorf("%w: %s", ErrMissingInput, f.Name)
		}
	}
	return nil
}
