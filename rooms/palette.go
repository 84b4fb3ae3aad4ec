package rooms

import "math/rand"

// Palette of visually distinct participant colors. Assignment is a
// uniform random draw per join; two participants may share a color.
var palette = []string{
	"#E6194B",
	"#3CB44B",
	"#FFE119",
	"#4363D8",
	"#F58231",
	"#911EB4",
	"#46F0F0",
	"#F032E6",
	"#BCF60C",
	"#008080",
	"#9A6324",
	"#800000",
}

func randomColor() string {
	return palette[rand.Intn(len(palette))]
}

// PaletteColors returns a copy of the fixed color palette.
func PaletteColors() []string {
	out := make([]string, len(palette))
	copy(out, palette)
	return out
}
