package nodes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/abel-garcia/comfyui-webhook-http/folderpaths"
	"github.com/abel-garcia/comfyui-webhook-http/imagebatch"
	"github.com/abel-garcia/comfyui-webhook-http/pnginfo"
)

// writePNG encodes img with the given text chunks to path
func writePNG(path string, img *imagebatch.Image, text pnginfo.Text) error {
	nrgba, err := img.ToNRGBA()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pnginfo.Encode(f, nrgba, text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// writeSingle resolves prefix in baseDir and writes the first image of the batch
// to <prefix>_.png, overwriting any previous file of that name.
func writeSingle(resolver folderpaths.Resolver, baseDir, prefix string, images imagebatch.Batch) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("%w: images", ErrMissingInput)
	}
	sp, err := resolver.SaveImagePath(prefix, baseDir, 0, 0)
	if err != nil {
		return "", err
	}

	path := filepath.Join(sp.Dir, sp.Single())
	if err := writePNG(path, &images[0], nil); err != nil {
		return "", err
	}
	return path, nil
}

// pngText builds the prompt/workflow chunks the host embeds in saved images
func pngText(h Hidden) pnginfo.Text {
	text := pnginfo.Text{}
	if h.Prompt != nil {
		text = text.Add("prompt", asciiJSON(h.Prompt))
	}
	if h.ExtraPNGInfo != nil {
		keys := make([]string, 0, len(h.ExtraPNGInfo))
		for k := range h.ExtraPNGInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			text = text.Add(k, asciiJSON(h.ExtraPNGInfo[k]))
		}
	}
	return text
}

// asciiJSON marshals v with every non-ASCII rune escaped as \uXXXX, matching
// the host's json.dumps output so the text fits a Latin-1 tEXt chunk.
func asciiJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	var sb strings.Builder
	sb.Grow(len(b))
	for _, r := range string(b) {
		if r < utf8.RuneSelf {
			sb.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		fmt.Fprintf(&sb, "\\u%04x", r)
	}
	return sb.String()
}
