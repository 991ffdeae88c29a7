// Package server exposes the node registry over HTTP so the nodes can be
// inspected and executed outside of the host.
package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/nodes"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Router struct {
	registry *nodes.Registry
	logger   *zap.Logger
}

func NewRouter(registry *nodes.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		logger:   logger,
	}
}

func (r *Router) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(Logger(r.logger))
	router.Use(Recovery(r.logger))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/object_info", r.ObjectInfo)
	router.GET("/object_info/:node", r.NodeInfo)
	router.POST("/execute/:node", r.Execute)

	return router
}

// ExecuteRequest is the body of POST /execute/:node. Images are base64 PNGs.
type ExecuteRequest struct {
	Inputs map[string]interface{} `json:"inputs"`
	Images []string               `json:"images"`
	Hidden nodes.Hidden           `json:"hidden"`
}

type ExecuteResponse struct {
	PromptID string                 `json:"prompt_id"`
	Outputs  []interface{}          `json:"outputs"`
	UI       map[string]interface{} `json:"ui,omitempty"`
}

func (r *Router) ObjectInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"names": r.registry.Names(),
		"nodes": r.registry.ObjectInfo(),
	})
}

func (r *Router) NodeInfo(ctx *gin.Context) {
	name := ctx.Param("node")
	info, err := r.registry.Info(name)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{name: info})
}

func (r *Router) Execute(ctx *gin.Context) {
	name := ctx.Param("node")
	if _, ok := r.registry.Lookup(name); !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s: %s", nodes.ErrUnknownNode, name)})
		return
	}

	var req ExecuteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := decodeImages(req.Images)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Hidden.PromptID == "" {
		req.Hidden.PromptID = uuid.New().String()
	}

	res, err := r.registry.Execute(ctx.Request.Context(), name, batch, req.Inputs, req.Hidden)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, nodes.ErrMissingInput) {
			status = http.StatusBadRequest
		}
		r.logger.Error("Node execution failed",
			zap.String("node", name),
			zap.String("prompt_id", req.Hidden.PromptID),
			zap.Error(err))
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	outputs, err := encodeOutputs(res.Outputs)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, ExecuteResponse{
		PromptID: req.Hidden.PromptID,
		Outputs:  outputs,
		UI:       res.UI,
	})
}

func decodeImages(encoded []string) (imagebatch.Batch, error) {
	retv := make(imagebatch.Batch, 0, len(encoded))
	for i, s := range encoded {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("image %d: invalid base64: %w", i, err)
		}
		img, err := imagebatch.DecodePNG(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		retv = append(retv, img)
	}
	return retv, nil
}

// encodeOutputs replaces image batches with lists of base64 PNGs
func encodeOutputs(outputs []interface{}) ([]interface{}, error) {
	retv := make([]interface{}, 0, len(outputs))
	for _, o := range outputs {
		batch, ok := o.(imagebatch.Batch)
		if !ok {
			retv = append(retv, o)
			continue
		}

		images := make([]string, 0, len(batch))
		for i := range batch {
			var buf bytes.Buffer
			if err := batch[i].EncodePNG(&buf); err != nil {
				return nil, err
			}
			images = append(images, base64.StdEncoding.EncodeToString(buf.Bytes()))
		}
		retv = append(retv, images)
	}
	return retv, nil
}
