// Package capability maps host CPU features to the best compiled backend
// variant.
package capability

import (
	"sync"

	"github.com/rs/zerolog"
)

// Detector selects backend variants for the host. Detection runs once and is
// cached for the lifetime of the Detector.
type Detector struct {
	variants []Variant
	probe    Probe
	log      zerolog.Logger

	once     sync.Once
	features FeatureSet
	probeErr error
	ranked   []Variant
}

// NewDetector builds a Detector. A nil variants slice uses DefaultVariants and
// a nil probe uses HostProbe.
func NewDetector(variants []Variant, probe Probe, log zerolog.Logger) *Detector {
	if variants == nil {
		variants = DefaultVariants()
	}
	if probe == nil {
		probe = HostProbe
	}
	return &Detector{variants: variants, probe: probe, log: log}
}

func (d *Detector) run() {
	d.once.Do(func() {
		fs, err := d.probe()
		if err != nil {
			d.probeErr = err
			d.features = FeatureSet{}
			d.ranked = []Variant{d.baseline()}
			d.log.Warn().Err(err).Msg("event=capability_probe_failed fallback=baseline")
			return
		}
		d.features = fs
		for _, v := range d.variants {
			if v.SupportedBy(fs) {
				d.ranked = append(d.ranked, v)
			}
		}
		if len(d.ranked) == 0 || d.ranked[len(d.ranked)-1].ID != Baseline {
			d.ranked = append(d.ranked, d.baseline())
		}
		d.log.Debug().Strs("features", fs.Names()).Str("variant", d.ranked[0].ID).Msg("event=capability_detected")
	})
}

func (d *Detector) baseline() Variant {
	for _, v := range d.variants {
		if v.ID == Baseline {
			return v
		}
	}
	return BaselineVariant
}

// Detect returns the id of the most capable supported variant. It never fails;
// probe errors yield Baseline.
func (d *Detector) Detect() string {
	d.run()
	return d.ranked[0].ID
}

// Ranked returns the supported variants, best first, ending with baseline.
func (d *Detector) Ranked() []Variant {
	d.run()
	out := make([]Variant, len(d.ranked))
	copy(out, d.ranked)
	return out
}

// Features returns the detected features and the probe error, if any.
func (d *Detector) Features() (FeatureSet, error) {
	d.run()
	out := make(FeatureSet, len(d.features))
	for k, v := range d.features {
		out[k] = v
	}
	return out, d.probeErr
}

// Lookup returns the variant with id from the configured table.
func (d *Detector) Lookup(id string) (Variant, bool) {
	for _, v := range d.variants {
		if v.ID == id {
			return v, true
		}
	}
	if id == Baseline {
		return BaselineVariant, true
	}
	return Variant{}, false
}
