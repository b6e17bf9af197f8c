package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSrcSet(t *testing.T) {
	got := SrcSet("/images/optimized/hero", "webp", []int{480, 768})
	assert.Equal(t, "/images/optimized/hero-480.webp 480w, /images/optimized/hero-768.webp 768w", got)
	assert.Equal(t, "", SrcSet("/x", "webp", nil))
}

func TestSizes(t *testing.T) {
	tests := []struct {
		name string
		cfg  SizesConfig
		want string
	}{
		{"empty", SizesConfig{}, "100vw"},
		{"mobile only", SizesConfig{Mobile: "100vw"}, "100vw"},
		{"all", SizesConfig{Mobile: "100vw", Tablet: "50vw", Desktop: "33vw"},
			"(min-width: 1024px) 33vw, (min-width: 768px) 50vw, 100vw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sizes(tt.cfg))
		})
	}
}

func TestResponsive(t *testing.T) {
	e := ManifestEntry{
		ID:          "small",
		Src:         "/images/optimized/original/small.png",
		Width:       300,
		Height:      200,
		Placeholder: "data:image/webp;base64,AA",
		Variants:    map[string][]int{"webp": {}, "avif": {}},
	}
	r := Responsive(e, "/images/optimized/")
	assert.Equal(t, "/images/optimized/original/small.png", r.Src)
	assert.Empty(t, r.Sources)

	e.Variants = map[string][]int{"webp": {480, 768}, "avif": {480}}
	r = Responsive(e, "/images/optimized")
	assert.Equal(t, map[string]string{
		"webp": "/images/optimized/small-480.webp 480w, /images/optimized/small-768.webp 768w",
		"avif": "/images/optimized/small-480.avif 480w",
	}, r.Sources)
}
