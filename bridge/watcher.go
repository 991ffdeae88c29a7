// Package bridge drives a registry node from the executed events of a running
// ComfyUI instance, so the webhook nodes can be used without installing them
// into the host.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abel-garcia/comfyui-webhook-http/client"
	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/nodes"
	"github.com/abel-garcia/comfyui-webhook-http/pnginfo"
	"go.uber.org/zap"
)

// ImageFetcher downloads an image a node reported as executed
type ImageFetcher interface {
	GetImage(image_data client.DataOutput) ([]byte, error)
}

type Watcher struct {
	fetcher  ImageFetcher
	registry *nodes.Registry
	node     string
	values   map[string]interface{}
	log      *zap.Logger

	// IncludeTemp also forwards previews written to the temp directory
	IncludeTemp bool
	// Timeout bounds a single node run, 0 for none
	Timeout time.Duration
}

// NewWatcher returns a watcher running the registry node name with values for every executed image batch
func NewWatcher(fetcher ImageFetcher, registry *nodes.Registry, name string, values map[string]interface{}, logger *zap.Logger) (*Watcher, error) {
	n, ok := registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", nodes.ErrUnknownNode, name)
	}
	schema := n.InputTypes()
	if f, ok := schema.Field("images"); !ok || f.Type != nodes.TypeImage {
		return nil, fmt.Errorf("node %s does not take an images input", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		fetcher:  fetcher,
		registry: registry,
		node:     name,
		values:   widgetValues(&schema, values),
		log:      logger,
	}, nil
}

// widgetValues copies values and fills required widgets left out with their
// defaults, the way the host's frontend serialises an untouched widget.
func widgetValues(schema *nodes.InputTypes, values map[string]interface{}) map[string]interface{} {
	retv := make(map[string]interface{}, len(values))
	for k, v := range values {
		retv[k] = v
	}
	for _, f := range schema.Required {
		if f.Type == nodes.TypeImage || f.Default == nil {
			continue
		}
		if v, ok := retv[f.Name]; !ok || v == nil {
			retv[f.Name] = f.Default
		}
	}
	return retv
}

// OnExecuted matches the client's Executed callback
func (w *Watcher) OnExecuted(_ *client.ComfyClient, msg *client.WSMessageDataExecuted) {
	_, err := w.Handle(context.Background(), msg)
	if err != nil {
		w.log.Error("Failed to run node for executed images",
			zap.String("node", w.node),
			zap.String("source_node", msg.Node),
			zap.String("prompt_id", msg.PromptID),
			zap.Error(err))
	}
}

// Handle runs the node on the images of one executed frame. It returns a nil
// result when the frame carries nothing to forward.
func (w *Watcher) Handle(ctx context.Context, msg *client.WSMessageDataExecuted) (*nodes.Result, error) {
	var batch imagebatch.Batch
	hidden := nodes.Hidden{PromptID: msg.PromptID}
	metadataRead := false

	for _, d := range msg.Images() {
		if d.Type == string(folderpaths.TempImageType) && !w.IncludeTemp {
			continue
		}
		data, err := w.fetcher.GetImage(d)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", d.Filename, err)
		}
		img, err := imagebatch.DecodePNG(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", d.Filename, err)
		}
		batch = append(batch, img)

		// the first image carrying metadata supplies the hidden inputs
		if !metadataRead {
			metadataRead = readHidden(bytes.NewReader(data), &hidden, w.log)
		}
	}

	if len(batch) == 0 {
		return nil, nil
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	w.log.Info("Running node",
		zap.String("node", w.node),
		zap.String("prompt_id", msg.PromptID),
		zap.Int("images", len(batch)))
	return w.registry.Execute(ctx, w.node, batch, w.values, hidden)
}

// readHidden fills the prompt and extra png info from the text chunks the host
// embeds. It reports whether the image carried any.
func readHidden(r *bytes.Reader, hidden *nodes.Hidden, log *zap.Logger) bool {
	chunks, err := pnginfo.Read(r)
	if err != nil {
		log.Debug("No png metadata", zap.Error(err))
		return false
	}
	if len(chunks) == 0 {
		return false
	}

	for k, v := range chunks {
		var parsed interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		if k == "prompt" {
			if m, ok := parsed.(map[string]interface{}); ok {
				hidden.Prompt = m
			}
			continue
		}
		if hidden.ExtraPNGInfo == nil {
			hidden.ExtraPNGInfo = make(map[string]interface{})
		}
		hidden.ExtraPNGInfo[k] = parsed
	}
	return true
}
