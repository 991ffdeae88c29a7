package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/pnginfo"
	"github.com/abel-garcia/comfyui-webhook-http/webhook"
	"go.uber.org/zap"
)

// SaveImageWebhook saves every image of a batch to the output directory and
// then tells a webhook where they were written.
type SaveImageWebhook struct {
	deps Deps
}

func NewSaveImageWebhook(deps Deps) *SaveImageWebhook {
	return &SaveImageWebhook{deps: deps.withDefaults()}
}

func (n *SaveImageWebhook) InputTypes() InputTypes {
	return InputTypes{
		Required: []Field{
			{Name: "images", Type: TypeImage, Tooltip: "The images to save."},
			{Name: "filename_prefix", Type: TypeString, Default: "ComfyUI",
				Tooltip: "The prefix for the file to save. May include %batch_num%, %width%, %height% and date tokens."},
		},
		Optional: []Field{
			{Name: "webhook_url", Type: TypeString, Default: "", Placeholder: "https://example.com/webhook"},
			{Name: "metadata", Type: TypeString, Default: "", Multiline: true},
		},
		Hidden: []Field{
			{Name: "prompt", Type: TypePrompt},
			{Name: "extra_pnginfo", Type: TypeExtraPngInfo},
			{Name: "prompt_id", Type: "PROMPT_ID"},
		},
	}
}

func (n *SaveImageWebhook) ReturnTypes() []string { return []string{} }
func (n *SaveImageWebhook) ReturnNames() []string { return []string{} }
func (n *SaveImageWebhook) Category() string      { return "image_notifier/save" }
func (n *SaveImageWebhook) Function() string      { return "save_images" }
func (n *SaveImageWebhook) OutputNode() bool      { return true }
func (n *SaveImageWebhook) Description() string {
	return "Saves the input images to your output directory and notifies a webhook with the saved files."
}

// Execute writes the batch and posts the descriptors. Unlike the single file
// notifiers it never fails because of the webhook: transport errors are logged.
func (n *SaveImageWebhook) Execute(ctx context.Context, in *Invocation) (*Result, error) {
	if len(in.Images) == 0 {
		return nil, fmt.Errorf("%w: images", ErrMissingInput)
	}

	first := in.Images[0]
	sp, err := n.deps.Resolver.SaveImagePath(in.String("filename_prefix"), n.deps.Paths.OutputDirectory(), first.Width, first.Height)
	if err != nil {
		return nil, err
	}

	var text pnginfo.Text
	if !n.deps.DisableMetadata {
		text = pngText(in.Hidden)
	}

	results := make([]folderpaths.SavedImage, 0, len(in.Images))
	counter := sp.Counter
	for batchNumber := range in.Images {
		target := sp
		target.Filename = folderpaths.ApplyBatchNum(sp.Filename, batchNumber)
		file := target.File(counter)

		if err := writePNG(filepath.Join(sp.Dir, file), &in.Images[batchNumber], text); err != nil {
			return nil, err
		}
		results = append(results, folderpaths.SavedImage{
			Filename:  file,
			Subfolder: sp.Subfolder,
			Type:      folderpaths.OutputImageType,
		})
		counter++
	}

	if webhookURL := in.String("webhook_url"); webhookURL != "" {
		n.notify(ctx, webhookURL, in, results)
	}

	return &Result{
		Outputs: []interface{}{},
		UI:      map[string]interface{}{"images": results},
	}, nil
}

func (n *SaveImageWebhook) notify(ctx context.Context, webhookURL string, in *Invocation, results []folderpaths.SavedImage) {
	images, _ := json.Marshal(results)

	form := url.Values{}
	form.Set("metadata", webhook.EncodeMetadata(in.String("metadata")))
	form.Set("images", string(images))
	if in.Hidden.PromptID != "" {
		id, _ := json.Marshal(in.Hidden.PromptID)
		form.Set("prompt_id", string(id))
	}

	if _, err := n.deps.Webhook.PostForm(ctx, webhookURL, form, webhook.ExpectBelow300); err != nil {
		n.deps.Logger.Error("Failed to notify webhook", zap.Error(err), zap.Int("images", len(results)))
	}
}
