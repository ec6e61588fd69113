package expression

import (
	"maps"
	"slices"

	"github.com/MrWong99/facechat/pkg/types"
)

// DefaultPhoneme is used for viseme symbols missing from the viseme table.
const DefaultPhoneme = "AA"

// phonemeExpressions maps a phoneme to the blend-shape weights that form its
// mouth shape. Never modified after init; reached only through [PhonemeWeights].
var phonemeExpressions = map[string]map[int]float64{
	"AA": {24: 0.6, 37: 0.16, 38: 0.16},
	"AE": {24: 0.4, 25: 0.4, 37: 0.33, 38: 0.33},
	"IY": {24: 0.3, 30: 0.16, 31: 0.16, 37: 0.51, 38: 0.51},
	"UW": {19: 0.31, 24: 0.55, 28: 0.4},
	"B":  {19: 0.21, 32: 0.3, 33: 0.3},
	"F":  {33: 0, 34: 1, 35: 0},
	"L":  {20: 0.5, 21: 0.5, 24: 0.35, 37: 0.46, 38: 0.46},
	"M":  {32: 0.66},
	"S":  {24: 0.3, 37: 0.31, 38: 0.31},
	"T":  {15: 0.21, 16: 0.21, 19: 0.26, 24: 0.41, 30: 0.33, 31: 0.33},
	"AY": {24: 0.4, 37: 0.3, 38: 0.3},
	"OW": {24: 0.13, 17: 0, 18: 0, 28: 0.07},
}

// visemePhonemes maps the synthesis engine's viseme symbols to phonemes.
// Symbols are case-sensitive: "t" and "T" are distinct visemes.
var visemePhonemes = map[string]string{
	"p": "B",
	"t": "T",
	"S": "S",
	"T": "T",
	"f": "F",
	"k": "T",
	"i": "IY",
	"r": "L",
	"s": "S",
	"u": "UW",
	"@": "AE",
	"a": "AA",
	"e": "IY",
	"E": "AE",
	"o": "OW",
	"O": "AA",
}

// blendShapes lists every blend-shape index referenced by any phoneme, sorted.
var blendShapes = func() []int {
	seen := make(map[int]struct{})
	for _, w := range phonemeExpressions {
		for k := range w {
			seen[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}()

// PhonemeFor returns the phoneme for a viseme symbol. Unknown symbols map to
// [DefaultPhoneme]; the boolean reports whether the symbol was known.
func PhonemeFor(viseme string) (string, bool) {
	p, ok := visemePhonemes[viseme]
	if !ok {
		return DefaultPhoneme, false
	}
	return p, true
}

// PhonemeWeights returns a copy of the weights for phoneme. Unknown phonemes
// yield an empty, non-nil frame and false.
func PhonemeWeights(phoneme string) (types.ExpressionFrame, bool) {
	w, ok := phonemeExpressions[phoneme]
	if !ok {
		return types.ExpressionFrame{}, false
	}
	return types.ExpressionFrame(w).Clone(), true
}

// Phonemes returns the known phoneme names, sorted.
func Phonemes() []string {
	return slices.Sorted(maps.Keys(phonemeExpressions))
}

// BlendShapes returns every blend-shape index the tables can drive, sorted.
func BlendShapes() []int {
	return slices.Clone(blendShapes)
}
