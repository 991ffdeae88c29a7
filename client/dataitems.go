package client

import "github.com/abel-garcia/comfyui-webhook-http/folderpaths"

// DataOutput is one entry of an "executed" node output
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"-"` // for "text" type data output
}

// SavedImage converts an image output into the saved-file descriptor form
func (d DataOutput) SavedImage() folderpaths.SavedImage {
	return folderpaths.SavedImage{
		Filename:  d.Filename,
		Subfolder: d.Subfolder,
		Type:      folderpaths.ImageType(d.Type),
	}
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	ComfyUIVersion string `json:"comfyui_version"`
	EmbeddedPython bool   `json:"embedded_python"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}
