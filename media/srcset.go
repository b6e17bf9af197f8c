package media

import (
	"fmt"
	"strings"
)

// SrcSet builds a srcset attribute for files named base-{width}.ext.
func SrcSet(base, ext string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = fmt.Sprintf("%s-%d.%s %dw", base, w, ext, w)
	}
	return strings.Join(parts, ", ")
}

// SizesConfig maps layout columns to a sizes attribute.
type SizesConfig struct {
	Mobile  string `json:"mobile,omitempty"`
	Tablet  string `json:"tablet,omitempty"`
	Desktop string `json:"desktop,omitempty"`
}

// Sizes renders cfg as a sizes attribute, "100vw" when empty.
func Sizes(cfg SizesConfig) string {
	var parts []string
	if cfg.Desktop != "" {
		parts = append(parts, "(min-width: 1024px) "+cfg.Desktop)
	}
	if cfg.Tablet != "" {
		parts = append(parts, "(min-width: 768px) "+cfg.Tablet)
	}
	if cfg.Mobile != "" {
		parts = append(parts, cfg.Mobile)
	}
	if len(parts) == 0 {
		return "100vw"
	}
	return strings.Join(parts, ", ")
}

// ResponsiveImage is what a renderer needs to paint one manifest entry.
type ResponsiveImage struct {
	ID          string `json:"id"`
	Src         string `json:"src"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Placeholder string `json:"blurDataURL"`
	Color       string `json:"color,omitempty"`
	// Sources maps format to srcset. Formats without variants are omitted.
	Sources map[string]string `json:"sources"`
}

// Responsive builds the render-time reference for e. publicPath must be the
// prefix the variants were generated under.
func Responsive(e ManifestEntry, publicPath string) ResponsiveImage {
	base := strings.TrimRight(publicPath, "/") + "/" + e.ID
	sources := make(map[string]string, len(e.Variants))
	for format, widths := range e.Variants {
		if len(widths) == 0 {
			continue
		}
		sources[format] = SrcSet(base, format, widths)
	}
	return ResponsiveImage{
		ID:          e.ID,
		Src:         e.Src,
		Width:       e.Width,
		Height:      e.Height,
		Placeholder: e.Placeholder,
		Color:       e.Color,
		Sources:     sources,
	}
}
