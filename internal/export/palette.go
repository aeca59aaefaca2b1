package export

import "math"

// palette colours level classes from quiet to loud, one class per step
// above the first threshold.
var palette = []string{
	"#a0bae8", // below the first class
	"#b8d6d1",
	"#cedde6",
	"#a2d06d",
	"#3fa14c",
	"#ffff54",
	"#f0c24a",
	"#e7802e",
	"#e8472d",
	"#ad1c35",
	"#821f4a",
	"#4f1f6e",
}

// firstClass is the upper bound of the quietest class, dB.
const firstClass = 35.0

// levelClass returns the palette index of level for classes step dB wide.
func levelClass(level, step float64) int {
	if step <= 0 {
		step = 5
	}
	if level < firstClass {
		return 0
	}
	i := 1 + int(math.Floor((level-firstClass)/step))
	return min(i, len(palette)-1)
}
