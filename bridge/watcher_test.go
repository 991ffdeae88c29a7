package bridge

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/abel-garcia/comfyui-webhook-http/client"
	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/nodes"
	"github.com/abel-garcia/comfyui-webhook-http/pnginfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeFetcher struct {
	files   map[string][]byte
	fetched []string
}

func (f *fakeFetcher) GetImage(d client.DataOutput) ([]byte, error) {
	f.fetched = append(f.fetched, d.Filename)
	data, ok := f.files[d.Filename]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

// recordingNode remembers the last invocation it received
type recordingNode struct {
	last *nodes.Invocation
	err  error
}

func (n *recordingNode) InputTypes() nodes.InputTypes {
	return nodes.InputTypes{
		Required: []nodes.Field{
			{Name: "images", Type: nodes.TypeImage},
			{Name: "label", Type: nodes.TypeString, Default: "none"},
		},
	}
}
func (n *recordingNode) ReturnTypes() []string { return []string{} }
func (n *recordingNode) ReturnNames() []string { return []string{} }
func (n *recordingNode) Category() string      { return "test" }
func (n *recordingNode) Function() string      { return "record" }
func (n *recordingNode) OutputNode() bool      { return true }
func (n *recordingNode) Description() string   { return "" }
func (n *recordingNode) Execute(_ context.Context, in *nodes.Invocation) (*nodes.Result, error) {
	n.last = in
	if n.err != nil {
		return nil, n.err
	}
	return &nodes.Result{UI: map[string]interface{}{"images": len(in.Images)}}, nil
}

func pngBytes(t *testing.T, text pnginfo.Text) []byte {
	t.Helper()
	img := imagebatch.New(2, 2, 3)
	nrgba, err := img.ToNRGBA()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, pnginfo.Encode(&buf, nrgba, text))
	return buf.Bytes()
}

func newTestWatcher(t *testing.T, node *recordingNode, fetcher ImageFetcher) (*Watcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	reg := nodes.NewEmptyRegistry()
	reg.Register("Recorder", "Recorder", node)
	w, err := NewWatcher(fetcher, reg, "Recorder", map[string]interface{}{"label": "bridge"}, zap.New(core))
	require.NoError(t, err)
	return w, logs
}

func executed(images ...client.DataOutput) *client.WSMessageDataExecuted {
	return &client.WSMessageDataExecuted{
		Node:     "9",
		PromptID: "prompt-1",
		Output:   map[string][]client.DataOutput{"images": images},
	}
}

func TestHandleRunsNodeWithMetadata(t *testing.T) {
	text := pnginfo.Text{}.
		Add("prompt", `{"3":{"class_type":"KSampler"}}`).
		Add("workflow", `{"nodes":[]}`)
	fetcher := &fakeFetcher{files: map[string][]byte{
		"a.png": pngBytes(t, text),
		"b.png": pngBytes(t, nil),
	}}
	node := &recordingNode{}
	w, _ := newTestWatcher(t, node, fetcher)

	res, err := w.Handle(context.Background(), executed(
		client.DataOutput{Filename: "a.png", Type: "output"},
		client.DataOutput{Filename: "b.png", Type: "output"},
	))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.UI["images"])

	require.NotNil(t, node.last)
	assert.Len(t, node.last.Images, 2)
	assert.Equal(t, "bridge", node.last.String("label"))
	assert.Equal(t, "prompt-1", node.last.Hidden.PromptID)
	assert.Contains(t, node.last.Hidden.Prompt, "3")
	assert.Equal(t, map[string]interface{}{"nodes": []interface{}{}}, node.last.Hidden.ExtraPNGInfo["workflow"])
}

func TestHandleSkipsTempUnlessIncluded(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{"p.png": pngBytes(t, nil)}}
	node := &recordingNode{}
	w, _ := newTestWatcher(t, node, fetcher)
	msg := executed(client.DataOutput{Filename: "p.png", Type: "temp"})

	res, err := w.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, node.last)
	assert.Empty(t, fetcher.fetched)

	w.IncludeTemp = true
	res, err = w.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, node.last.Images, 1)
}

func TestHandleNoImages(t *testing.T) {
	node := &recordingNode{}
	w, _ := newTestWatcher(t, node, &fakeFetcher{})

	res, err := w.Handle(context.Background(), &client.WSMessageDataExecuted{
		Node:   "4",
		Output: map[string][]client.DataOutput{"text": {{Type: "text", Text: "hi"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, node.last)
}

func TestOnExecutedLogsErrors(t *testing.T) {
	node := &recordingNode{err: errors.New("webhook down")}
	fetcher := &fakeFetcher{files: map[string][]byte{"a.png": pngBytes(t, nil)}}
	w, logs := newTestWatcher(t, node, fetcher)

	w.OnExecuted(nil, executed(
		client.DataOutput{Filename: "a.png", Type: "output"},
	))
	entries := logs.FilterMessage("Failed to run node for executed images").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "webhook down", entries[0].ContextMap()["error"])

	// a fetch failure is reported the same way and does not stop later frames
	w.OnExecuted(nil, executed(client.DataOutput{Filename: "missing.png", Type: "output"}))
	assert.Len(t, logs.FilterMessage("Failed to run node for executed images").All(), 2)
}

func TestNewWatcherRejectsNodesWithoutImages(t *testing.T) {
	reg := nodes.NewRegistry(nodes.Deps{})

	_, err := NewWatcher(&fakeFetcher{}, reg, "RefinerStepSplitter", nil, nil)
	assert.Error(t, err)

	_, err = NewWatcher(&fakeFetcher{}, reg, "Nope", nil, nil)
	assert.ErrorIs(t, err, nodes.ErrUnknownNode)

	_, err = NewWatcher(&fakeFetcher{}, reg, "ImageWebhookNotifier", nil, nil)
	assert.NoError(t, err)
}

func TestHandleReadsMetadataFromFirstTaggedImageOnly(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"plain.png":  pngBytes(t, nil),
		"first.png":  pngBytes(t, pnginfo.Text{}.Add("workflow", `{"id":"first"}`)),
		"second.png": pngBytes(t, pnginfo.Text{}.Add("workflow", `{"id":"second"}`).Add("prompt", `{"1":{}}`)),
	}}
	node := &recordingNode{}
	w, _ := newTestWatcher(t, node, fetcher)

	_, err := w.Handle(context.Background(), executed(
		client.DataOutput{Filename: "plain.png", Type: "output"},
		client.DataOutput{Filename: "first.png", Type: "output"},
		client.DataOutput{Filename: "second.png", Type: "output"},
	))
	require.NoError(t, err)

	require.NotNil(t, node.last)
	assert.Len(t, node.last.Images, 3)
	assert.Nil(t, node.last.Hidden.Prompt)
	assert.Equal(t, map[string]interface{}{
		"workflow": map[string]interface{}{"id": "first"},
	}, node.last.Hidden.ExtraPNGInfo)
}

func TestNewWatcherFillsRequiredWidgetDefaults(t *testing.T) {
	node := &recordingNode{}
	reg := nodes.NewEmptyRegistry()
	reg.Register("Recorder", "Recorder", node)
	fetcher := &fakeFetcher{files: map[string][]byte{"a.png": pngBytes(t, nil)}}

	values := map[string]interface{}{"extra": 1}
	w, err := NewWatcher(fetcher, reg, "Recorder", values, nil)
	require.NoError(t, err)

	_, err = w.Handle(context.Background(), executed(client.DataOutput{Filename: "a.png", Type: "output"}))
	require.NoError(t, err)
	assert.Equal(t, "none", node.last.Values["label"])
	assert.Equal(t, 1, node.last.Values["extra"])
	// the caller's map is left alone
	assert.NotContains(t, values, "label")
}

func TestBridgedSaveImageWebhookRuns(t *testing.T) {
	paths := folderpaths.NewPaths(t.TempDir(), t.TempDir())
	reg := nodes.NewRegistry(nodes.NewDeps(paths, 0, nil))
	fetcher := &fakeFetcher{files: map[string][]byte{"a.png": pngBytes(t, nil)}}

	w, err := NewWatcher(fetcher, reg, "SaveImageWebhook", nil, nil)
	require.NoError(t, err)

	res, err := w.Handle(context.Background(), executed(client.DataOutput{Filename: "a.png", Type: "output"}))
	require.NoError(t, err)
	saved := res.UI["images"].([]folderpaths.SavedImage)
	require.Len(t, saved, 1)
	assert.Equal(t, "ComfyUI_00001_.png", saved[0].Filename)
}
