package capability

import "sort"

// Feature names a CPU capability relevant to inference kernels.
type Feature string

const (
	FeatureFP16    Feature = "fp16"    // half-precision arithmetic (arm64 FPHP/ASIMDHP)
	FeatureDotProd Feature = "dotprod" // int8 dot product (arm64 ASIMDDP, x86 AVX512-VNNI)
	FeatureI8MM    Feature = "i8mm"    // int8 matrix multiply (arm64)
	FeatureSVE     Feature = "sve"
	FeatureAVX2    Feature = "avx2"
	FeatureFMA     Feature = "fma"
	FeatureAVX512  Feature = "avx512"
)

// FeatureSet is the set of features detected on the host.
type FeatureSet map[Feature]bool

// Has reports whether every feature in fs is present.
func (s FeatureSet) Has(fs ...Feature) bool {
	for _, f := range fs {
		if !s[f] {
			return false
		}
	}
	return true
}

// Names returns the present features sorted by name.
func (s FeatureSet) Names() []string {
	out := make([]string, 0, len(s))
	for f, ok := range s {
		if ok {
			out = append(out, string(f))
		}
	}
	sort.Strings(out)
	return out
}

// Baseline is the variant id that runs on any host.
const Baseline = "baseline"

// Variant describes one compiled build of a native backend. Variants are
// immutable after construction.
type Variant struct {
	ID string
	// RequiredFeatures is ordered most-specific first.
	RequiredFeatures []Feature
	// Library is the shared object implementing this build.
	Library string
	// Valid is an optional extra predicate evaluated after the feature check.
	Valid func(FeatureSet) bool
}

// SupportedBy reports whether the variant can run on a host with fs.
func (v Variant) SupportedBy(fs FeatureSet) bool {
	if !fs.Has(v.RequiredFeatures...) {
		return false
	}
	if v.Valid != nil {
		return v.Valid(fs)
	}
	return true
}

// BaselineVariant has no requirements.
var BaselineVariant = Variant{ID: Baseline, Library: "libllama.so"}

// DefaultVariants returns the built-in variant table in priority order,
// most specialised first. The baseline variant is always last.
func DefaultVariants() []Variant {
	return []Variant{
		{
			ID:               "arm64-i8mm-dotprod-fp16",
			RequiredFeatures: []Feature{FeatureI8MM, FeatureDotProd, FeatureFP16},
			Library:          "libllama_v8_2_i8mm.so",
		},
		{
			ID:               "arm64-dotprod-fp16",
			RequiredFeatures: []Feature{FeatureDotProd, FeatureFP16},
			Library:          "libllama_v8_2_dotprod.so",
		},
		{
			ID:               "arm64-fp16",
			RequiredFeatures: []Feature{FeatureFP16},
			Library:          "libllama_v8_2_fp16.so",
		},
		{
			ID:               "x86-avx512",
			RequiredFeatures: []Feature{FeatureAVX512, FeatureAVX2, FeatureFMA},
			Library:          "libllama_avx512.so",
		},
		{
			ID:               "x86-avx2",
			RequiredFeatures: []Feature{FeatureAVX2, FeatureFMA},
			Library:          "libllama_avx2.so",
		},
		BaselineVariant,
	}
}
