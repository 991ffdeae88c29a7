// Comfywebhook is a set of image notifier nodes for ComfyUI. Each notifier takes the images
// produced by a workflow, writes them as PNG files the way the host's own save nodes do, and
// POSTs them (or a description of where they were saved) to a user supplied webhook.
// A small refiner step splitter node and a bridge that drives the notifiers from a running
// ComfyUI instance's websocket stream round out the package.
package comfywebhook
