package nodes

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/abel-garcia/comfyui-webhook-http/webhook"
	"go.uber.org/zap"
)

// ImageCreationNotifier uploads the first image of a batch to a webhook as a
// multipart file together with owner and email fields.
type ImageCreationNotifier struct {
	deps Deps
}

func NewImageCreationNotifier(deps Deps) *ImageCreationNotifier {
	return &ImageCreationNotifier{deps: deps.withDefaults()}
}

func idField(name string) Field {
	return Field{
		Name:        name,
		Type:        TypeString,
		Default:     "",
		Placeholder: "distinct identifier to organize into output directory",
	}
}

func (n *ImageCreationNotifier) InputTypes() InputTypes {
	return InputTypes{
		Required: []Field{
			{Name: "images", Type: TypeImage},
			idField("webhook_url"),
		},
		Optional: []Field{
			idField("owner"),
			idField("email"),
		},
	}
}

func (n *ImageCreationNotifier) ReturnTypes() []string { return []string{} }
func (n *ImageCreationNotifier) ReturnNames() []string { return []string{} }
func (n *ImageCreationNotifier) Category() string      { return "image_notifier/created" }
func (n *ImageCreationNotifier) Function() string      { return "send_notification_webhook" }
func (n *ImageCreationNotifier) OutputNode() bool      { return true }
func (n *ImageCreationNotifier) Description() string {
	return "Sends an HTTP request to a specified endpoint once an image is created."
}

// Execute writes the first image to <temp>/final_.png and posts it. Transport
// errors are returned; a non-204 status is only logged.
func (n *ImageCreationNotifier) Execute(ctx context.Context, in *Invocation) (*Result, error) {
	path, err := writeSingle(n.deps.Resolver, n.deps.Paths.TempDirectory(), "final", in.Images)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := map[string]string{
		"owner": in.String("owner"),
		"email": in.String("email"),
	}
	_, err = n.deps.Webhook.PostFile(ctx, in.String("webhook_url"), "file", filepath.Base(path), f,
		[]string{"owner", "email"}, fields, webhook.ExpectNoContent)
	if err != nil {
		return nil, err
	}

	return &Result{
		Outputs: []interface{}{},
		UI:      map[string]interface{}{"images": len(in.Images)},
	}, nil
}

// ImageWebhookNotifier posts the first image base64 encoded in a form body with
// a metadata string, then passes the batch through unchanged.
type ImageWebhookNotifier struct {
	deps Deps
}

func NewImageWebhookNotifier(deps Deps) *ImageWebhookNotifier {
	return &ImageWebhookNotifier{deps: deps.withDefaults()}
}

func (n *ImageWebhookNotifier) InputTypes() InputTypes {
	return InputTypes{
		Required: []Field{
			{Name: "images", Type: TypeImage},
			{Name: "webhook_url", Type: TypeString, Default: "", Placeholder: "https://example.com/webhook"},
		},
		Optional: []Field{
			{Name: "metadata", Type: TypeString, Default: "", Multiline: true},
			{Name: "filename_prefix", Type: TypeString, Default: "webhook"},
		},
	}
}

func (n *ImageWebhookNotifier) ReturnTypes() []string { return []string{TypeImage} }
func (n *ImageWebhookNotifier) ReturnNames() []string { return []string{"images"} }
func (n *ImageWebhookNotifier) Category() string      { return "image_notifier/webhook" }
func (n *ImageWebhookNotifier) Function() string      { return "send_image_webhook" }
func (n *ImageWebhookNotifier) OutputNode() bool      { return true }
func (n *ImageWebhookNotifier) Description() string {
	return "Posts the first image of the batch as base64 along with a metadata string."
}

func (n *ImageWebhookNotifier) Execute(ctx context.Context, in *Invocation) (*Result, error) {
	path, err := writeSingle(n.deps.Resolver, n.deps.Paths.TempDirectory(), in.String("filename_prefix"), in.Images)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", path, err)
	}

	form := url.Values{}
	form.Set("metadata", webhook.EncodeMetadata(in.String("metadata")))
	form.Set("file_base64", base64.StdEncoding.EncodeToString(data))

	resp, err := n.deps.Webhook.PostForm(ctx, in.String("webhook_url"), form, webhook.ExpectNoContent)
	if err != nil {
		return nil, err
	}
	n.deps.Logger.Debug("image webhook sent", zap.String("file", path), zap.Bool("ok", resp.OK))

	return &Result{Outputs: []interface{}{in.Images}}, nil
}
