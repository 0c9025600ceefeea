package capability

import (
	"bufio"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Probe reads host CPU features.
type Probe func() (FeatureSet, error)

// errUnsupportedArch is returned by HostProbe on architectures it does not
// inspect; the detector treats it like any other probe failure.
var errUnsupportedArch = errors.New("capability: cpu feature probe unsupported on " + runtime.GOARCH)

// cpuinfoPath is overridden in tests.
var cpuinfoPath = "/proc/cpuinfo"

// HostProbe reads feature flags via golang.org/x/sys/cpu, supplemented by
// /proc/cpuinfo on linux for flags x/sys/cpu does not expose.
func HostProbe() (FeatureSet, error) {
	fs := FeatureSet{}
	switch runtime.GOARCH {
	case "arm64":
		fs[FeatureFP16] = cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP
		fs[FeatureDotProd] = cpu.ARM64.HasASIMDDP
		fs[FeatureSVE] = cpu.ARM64.HasSVE
	case "amd64":
		fs[FeatureAVX2] = cpu.X86.HasAVX2
		fs[FeatureFMA] = cpu.X86.HasFMA
		fs[FeatureAVX512] = cpu.X86.HasAVX512F
		fs[FeatureDotProd] = cpu.X86.HasAVX512VNNI
	default:
		return nil, errUnsupportedArch
	}
	if runtime.GOOS == "linux" || runtime.GOOS == "android" {
		if f, err := os.Open(cpuinfoPath); err == nil {
			flags := parseCPUInfoFlags(f)
			_ = f.Close()
			if flags["i8mm"] {
				fs[FeatureI8MM] = true
			}
		}
	}
	return fs, nil
}

// parseCPUInfoFlags collects the tokens of the first "Features" (arm) or
// "flags" (x86) line.
func parseCPUInfoFlags(r io.Reader) map[string]bool {
	out := map[string]bool{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key != "Features" && key != "flags" {
			continue
		}
		for _, tok := range strings.Fields(val) {
			out[tok] = true
		}
		break
	}
	return out
}
