// Package color normalizes user chat colors so they stay legible on a fixed
// background. A color that already has enough contrast against the background
// is left alone; otherwise its lightness is moved toward the end of the scale
// opposite the background (darker on light backgrounds, lighter on dark ones)
// until the contrast target is met. Hue and saturation are kept.
package color

import (
	"fmt"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// MinContrast is the WCAG AA contrast ratio for normal text, reached at
// strength 1.
const MinContrast = 4.5

const (
	searchSteps = 32
	nudge       = 1.0 / 512
)

var (
	// Light adjusts colors for the white chat background.
	Light = MustNew("#ffffff", 1)
	// Dark adjusts colors for the dark theme background.
	Dark = MustNew("#181818", 1)
)

// Adjuster maps raw colors to colors legible on one background. It holds no
// mutable state and is safe for concurrent use.
type Adjuster struct {
	background colorful.Color
	strength   float64
	target     float64
	lighten    bool
}

// New returns an adjuster for background (a #rgb or #rrggbb hex color).
// strength in [0,1] scales the contrast target from 1 (no change) to
// MinContrast.
func New(background string, strength float64) (*Adjuster, error) {
	bg, err := parse(background)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("strength %v outside [0,1]", strength)
	}
	white := colorful.Color{R: 1, G: 1, B: 1}
	black := colorful.Color{}
	return &Adjuster{
		background: bg,
		strength:   strength,
		target:     1 + (MinContrast-1)*strength,
		lighten:    contrast(white, bg) > contrast(black, bg),
	}, nil
}

// MustNew is like New but panics on invalid arguments.
func MustNew(background string, strength float64) *Adjuster {
	a, err := New(background, strength)
	if err != nil {
		panic(err)
	}
	return a
}

// Background returns the background as #rrggbb.
func (a *Adjuster) Background() string { return a.background.Hex() }

// Process returns the display color for raw as lowercase #rrggbb. A nil or
// unparseable raw color yields nil; no default color is invented.
func (a *Adjuster) Process(raw *string) *string {
	if raw == nil {
		return nil
	}
	c, err := parse(*raw)
	if err != nil {
		return nil
	}
	out := a.adjust(c).Hex()
	return &out
}

// ProcessString is Process for callers holding a plain string; "" means absent.
func (a *Adjuster) ProcessString(raw string) string {
	if raw == "" {
		return ""
	}
	if out := a.Process(&raw); out != nil {
		return *out
	}
	return ""
}

func (a *Adjuster) adjust(c colorful.Color) colorful.Color {
	if contrast(c, a.background) >= a.target {
		return c
	}
	h, s, l := c.Hsl()
	end := 0.0
	if a.lighten {
		end = 1.0
	}
	at := func(l float64) colorful.Color { return quantize(colorful.Hsl(h, s, l)) }
	if contrast(at(end), a.background) < a.target {
		return at(end)
	}

	// Luminance is monotonic in HSL lightness for fixed hue and saturation,
	// so bisect between the original lightness and the far end.
	ok, bad := end, l
	for i := 0; i < searchSteps; i++ {
		mid := (ok + bad) / 2
		if contrast(at(mid), a.background) >= a.target {
			ok = mid
		} else {
			bad = mid
		}
	}
	out := at(ok)
	// Rounding to 8-bit channels can undo the last fraction of contrast.
	for contrast(out, a.background) < a.target && ok != end {
		if a.lighten {
			ok = min(ok+nudge, end)
		} else {
			ok = max(ok-nudge, end)
		}
		out = at(ok)
	}
	return out
}

// Contrast returns the WCAG contrast ratio between two hex colors.
func Contrast(fg, bg string) (float64, error) {
	a, err := parse(fg)
	if err != nil {
		return 0, err
	}
	b, err := parse(bg)
	if err != nil {
		return 0, err
	}
	return contrast(a, b), nil
}

func contrast(a, b colorful.Color) float64 {
	la, lb := luminance(a), luminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.Clamped().LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// quantize rounds c to the 8-bit color its hex form denotes.
func quantize(c colorful.Color) colorful.Color {
	q, err := colorful.Hex(c.Clamped().Hex())
	if err != nil {
		return c.Clamped()
	}
	return q
}

func parse(s string) (colorful.Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(strings.ToLower(s))
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
