package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	"mkvseq/pkg/frame"
	"mkvseq/pkg/mkv"
	"mkvseq/pkg/pixfmt"

	"gopkg.in/yaml.v2"
)

const manifestName = "fields.yaml"

type manifestEntry struct {
	File      string            `yaml:"file"`
	Timestamp float64           `yaml:"timestamp"`
	Fields    map[string]string `yaml:"fields,omitempty"`
}

// ErrNoFrames directory has no frames.
var ErrNoFrames = errors.New("no frames found")

// loadFrames reads the frames listed in fields.yaml. Without a manifest
// every PNG file is loaded in name order, spaced 1/frameRate apart.
func loadFrames(dir string, frameRate float64) (*frame.List, error) {
	entries, err := readManifest(dir)
	if errors.Is(err, os.ErrNotExist) {
		entries, err = globFrames(dir, frameRate)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoFrames, dir)
	}

	seq := frame.NewList(len(entries))
	for i, entry := range entries {
		img, err := loadPNG(filepath.Join(dir, entry.File))
		if err != nil {
			return nil, err
		}
		f := seq.At(i)
		f.SetTimestamp(entry.Timestamp)
		copy(f.AllocateImage(img.Width, img.Height, img.Components).Pix, img.Pix)
		for name, value := range entry.Fields {
			f.SetField(name, value)
		}
	}
	return seq, nil
}

func readManifest(dir string) ([]manifestEntry, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var entries []manifestEntry
	if err := yaml.UnmarshalStrict(raw, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal %v: %w", manifestName, err)
	}
	return entries, nil
}

func globFrames(dir string, frameRate float64) ([]manifestEntry, error) {
	if frameRate <= 0 {
		frameRate = mkv.DefaultFrameRate
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	entries := make([]manifestEntry, 0, len(paths))
	for i, path := range paths {
		entries = append(entries, manifestEntry{
			File:      filepath.Base(path),
			Timestamp: float64(i) / frameRate,
		})
	}
	return entries, nil
}

func loadPNG(path string) (frame.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return frame.Image{}, err
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return frame.Image{}, fmt.Errorf("decode %v: %w", path, err)
	}
	return pixfmt.FromImage(img), nil
}

// saveFrames writes one PNG per frame and a fields.yaml manifest.
func saveFrames(dir string, seq frame.Sequence) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	entries := make([]manifestEntry, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		f := seq.At(i)
		name := fmt.Sprintf("%06d.png", i)
		if err := savePNG(filepath.Join(dir, name), pixfmt.ToImage(*f.Image())); err != nil {
			return err
		}

		entry := manifestEntry{File: name, Timestamp: f.Timestamp()}
		for _, field := range f.FieldNames() {
			if entry.Fields == nil {
				entry.Fields = make(map[string]string)
			}
			entry.Fields[field], _ = f.Field(field)
		}
		entries = append(entries, entry)
	}

	raw, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal %v: %w", manifestName, err)
	}
	return os.WriteFile(filepath.Join(dir, manifestName), raw, 0o644)
}

func savePNG(path string, img image.Image) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode %v: %w", path, err)
	}
	return file.Close()
}
