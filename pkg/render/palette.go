package render

import (
	"github.com/lucasb-eyer/go-colorful"
)

// rainbowSpan is the hue range of the palette, red through magenta.
const rainbowSpan = 300.0

// Palette returns n evenly spaced rainbow colours.
func Palette(n int, saturation, value float64) []colorful.Color {
	out := make([]colorful.Color, n)
	for i := range out {
		hue := 0.0
		if n > 1 {
			hue = rainbowSpan * float64(i) / float64(n-1)
		}
		out[i] = colorful.Hsv(hue, saturation, value)
	}
	return out
}

// Lighten moves c towards white in HSL space. amount 1 keeps the colour,
// 0 gives white.
func Lighten(c colorful.Color, amount float64) colorful.Color {
	h, s, l := c.Hsl()
	return colorful.Hsl(h, s, 1-amount*(1-l)).Clamped()
}

// TaskColors assigns a hex colour to each task type in order.
func TaskColors(taskTypes []string, saturation, value float64) map[string]string {
	colors := Palette(len(taskTypes), saturation, value)
	out := make(map[string]string, len(taskTypes))
	for i, t := range taskTypes {
		out[t] = colors[i].Hex()
	}
	return out
}
