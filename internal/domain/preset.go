package domain

import (
	"sort"
	"strings"
)

const (
	PresetCropImage = "crop-image"
	PresetResize    = "resize-image"

	megabyte = 1 << 20
)

// Preset parameterizes a crop or resize page. Every crop preset runs the same
// transform; only the starting aspect ratio, upload ceiling and download name
// differ.
type Preset struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Operation      string   `json:"operation"`
	AspectRatio    *float64 `json:"aspect_ratio,omitempty"`
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	Filename       string   `json:"filename"`
}

// AspectOption is one entry of the aspect-ratio selector. A nil Value means free.
type AspectOption struct {
	Label string   `json:"label"`
	Value *float64 `json:"value"`
}

// SizeOption is one of the resize shortcuts.
type SizeOption struct {
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var (
	AspectOptions = []AspectOption{
		{Label: "Free"},
		{Label: "1:1", Value: ratio(1, 1)},
		{Label: "4:3", Value: ratio(4, 3)},
		{Label: "16:9", Value: ratio(16, 9)},
		{Label: "3:2", Value: ratio(3, 2)},
	}

	SizeOptions = []SizeOption{
		{Label: "1920×1080", Width: 1920, Height: 1080},
		{Label: "1280×720", Width: 1280, Height: 720},
		{Label: "800×600", Width: 800, Height: 600},
		{Label: "640×480", Width: 640, Height: 480},
		{Label: "320×240", Width: 320, Height: 240},
	}

	DefaultResizeTarget = ResizeTarget{Width: 800, Height: 600}
)

var presets = map[string]Preset{
	PresetCropImage: {Name: PresetCropImage, Title: "Crop Image", Operation: OperationCrop, MaxUploadBytes: 10 * megabyte, Filename: "cropped-image.jpg"},
	"instagram":     platform("instagram", "Instagram", ratio(1, 1)),
	"tiktok":        platform("tiktok", "TikTok", ratio(9, 16)),
	"twitter":       platform("twitter", "Twitter", ratio(1, 1)),
	"pinterest":     platform("pinterest", "Pinterest", ratio(2, 3)),
	"youtube":       platform("youtube", "YouTube", ratio(16, 9)),
	"facebook":      platform("facebook", "Facebook", ratio(191, 100)),
	"linkedin":      platform("linkedin", "LinkedIn", ratio(191, 100)),
	PresetResize:    {Name: PresetResize, Title: "Resize Image", Operation: OperationResize, MaxUploadBytes: 40 * megabyte, Filename: "resized-image.jpg"},
}

func platform(name, title string, aspect *float64) Preset {
	return Preset{
		Name:           name,
		Title:          title + " Crop",
		Operation:      OperationCrop,
		AspectRatio:    aspect,
		MaxUploadBytes: 40 * megabyte,
		Filename:       name + "-cropped-image.jpg",
	}
}

func ratio(w, h float64) *float64 {
	v := w / h
	return &v
}

// LookupPreset resolves a preset by name; an empty name selects crop-image.
func LookupPreset(name string) (Preset, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = PresetCropImage
	}
	p, ok := presets[name]
	return p, ok
}

// Presets lists every preset sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
