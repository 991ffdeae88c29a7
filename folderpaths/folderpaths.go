// Package folderpaths resolves where nodes write their images, mirroring the
// host's output/temp directory layout and its file counter scheme.
package folderpaths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

var ErrPathOutsideBase = errors.New("saving image outside the output folder is not allowed")

// SavedImage describes where an image was persisted, relative to the host's
// output, temp or input directory. The host UI uses it to display the image.
type SavedImage struct {
	Filename  string    `json:"filename"`
	Subfolder string    `json:"subfolder"`
	Type      ImageType `json:"type"`
}

// SavePath is the result of resolving a filename prefix against a base directory
type SavePath struct {
	Dir       string // full output folder
	Filename  string // basename part of the prefix
	Counter   int    // first free counter
	Subfolder string // folder part of the prefix, relative to the base directory
	Prefix    string // prefix after variable substitution
}

// File returns the batch file name for a counter: <filename>_<counter:05>_.png
func (s SavePath) File(counter int) string {
	return fmt.Sprintf("%s_%05d_.png", s.Filename, counter)
}

// Single returns the file name used by single file writers: <filename>_.png
func (s SavePath) Single() string {
	return s.Filename + "_.png"
}

// ApplyBatchNum substitutes %batch_num% with the index of the image in its batch
func ApplyBatchNum(filename string, batchNumber int) string {
	return strings.ReplaceAll(filename, "%batch_num%", strconv.Itoa(batchNumber))
}

// Resolver allocates output locations. It is the narrow contract nodes depend on.
type Resolver interface {
	SaveImagePath(prefix, baseDir string, width, height int) (SavePath, error)
}

// Paths holds the host's directories
type Paths struct {
	OutputDir string
	TempDir   string
	InputDir  string

	// Now is used for %year%..%second% substitution; time.Now when nil
	Now func() time.Time
}

func NewPaths(outputDir, tempDir string) *Paths {
	return &Paths{
		OutputDir: outputDir,
		TempDir:   tempDir,
	}
}

func (p *Paths) OutputDirectory() string {
	return p.OutputDir
}

func (p *Paths) TempDirectory() string {
	return p.TempDir
}

// DirectoryFor returns the base directory holding images of the given type
func (p *Paths) DirectoryFor(t ImageType) string {
	switch t {
	case TempImageType:
		return p.TempDir
	case InputImageType:
		return p.InputDir
	}
	return p.OutputDir
}

func (p *Paths) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Paths) computeVars(input string, width, height int) string {
	now := p.now()
	r := strings.NewReplacer(
		"%width%", strconv.Itoa(width),
		"%height%", strconv.Itoa(height),
		"%year%", strconv.Itoa(now.Year()),
		"%month%", fmt.Sprintf("%02d", int(now.Month())),
		"%day%", fmt.Sprintf("%02d", now.Day()),
		"%hour%", fmt.Sprintf("%02d", now.Hour()),
		"%minute%", fmt.Sprintf("%02d", now.Minute()),
		"%second%", fmt.Sprintf("%02d", now.Second()),
	)
	return r.Replace(input)
}

// SaveImagePath resolves prefix inside baseDir. The returned counter is one past
// the highest counter already used by files named <filename>_NNNNN_..., or 1 when
// there are none. The output folder is created when missing.
func (p *Paths) SaveImagePath(prefix, baseDir string, width, height int) (SavePath, error) {
	if strings.Contains(prefix, "%") {
		prefix = p.computeVars(prefix, width, height)
	}

	clean := filepath.Clean(prefix)
	subfolder := filepath.Dir(clean)
	if subfolder == "." {
		subfolder = ""
	}
	filename := filepath.Base(clean)

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return SavePath{}, err
	}
	full := filepath.Join(base, subfolder)
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return SavePath{}, fmt.Errorf("%w: %s", ErrPathOutsideBase, full)
	}

	counter := 1
	entries, err := os.ReadDir(full)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(full, 0o755); err != nil {
			return SavePath{}, err
		}
	case err != nil:
		return SavePath{}, err
	default:
		if highest, ok := highestCounter(entries, filename); ok {
			counter = highest + 1
		}
	}

	return SavePath{
		Dir:       full,
		Filename:  filename,
		Counter:   counter,
		Subfolder: subfolder,
		Prefix:    prefix,
	}, nil
}

func highestCounter(entries []os.DirEntry, filename string) (int, bool) {
	prefixLen := len(filename)
	highest, found := 0, false
	for _, e := range entries {
		name := e.Name()
		if len(name) <= prefixLen {
			continue
		}
		if !strings.EqualFold(name[:prefixLen], filename) || name[prefixLen] != '_' {
			continue
		}
		digits := 0
		if n, err := strconv.Atoi(strings.SplitN(name[prefixLen+1:], "_", 2)[0]); err == nil {
			digits = n
		}
		if !found || digits > highest {
			highest, found = digits, true
		}
	}
	return highest, found
}
