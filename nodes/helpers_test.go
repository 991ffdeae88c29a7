package nodes

import (
	"testing"

	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/webhook"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testBatch(n int) imagebatch.Batch {
	retv := make(imagebatch.Batch, 0, n)
	for i := 0; i < n; i++ {
		img := imagebatch.New(2, 3, 3)
		for j := range img.Pix {
			img.Pix[j] = float32(i+1) / float32(n+1)
		}
		retv = append(retv, img)
	}
	return retv
}

// zeroResolver resolves like the host but always starts counting at zero
type zeroResolver struct {
	paths *folderpaths.Paths
}

func (z zeroResolver) SaveImagePath(prefix, baseDir string, width, height int) (folderpaths.SavePath, error) {
	sp, err := z.paths.SaveImagePath(prefix, baseDir, width, height)
	sp.Counter = 0
	return sp, err
}

func testDeps(t *testing.T) (Deps, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	paths := folderpaths.NewPaths(t.TempDir(), t.TempDir())
	return Deps{
		Paths:    paths,
		Resolver: paths,
		Webhook:  webhook.NewClient(0, logger),
		Logger:   logger,
	}, logs
}
