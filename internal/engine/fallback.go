package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"sessiond/internal/capability"
)

// LoadWithFallback tries each variant in order, moving to the next only on
// NativeLibraryUnavailableError. Other errors surface immediately. When every
// variant is unavailable the result is a ModelLoadError.
func LoadWithFallback(ctx context.Context, a Adapter, variants []capability.Variant, opts LoadOptions, log zerolog.Logger) (*Handle, capability.Variant, error) {
	if len(variants) == 0 {
		variants = []capability.Variant{capability.BaselineVariant}
	}
	var errs []error
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return nil, capability.Variant{}, err
		}
		o := opts
		o.Variant = v
		h, err := a.Load(ctx, o)
		if err == nil {
			return h, v, nil
		}
		if !IsNativeLibraryUnavailable(err) {
			return nil, capability.Variant{}, err
		}
		log.Warn().Err(err).Str("variant", v.ID).Str("backend", a.Name()).Msg("event=variant_unavailable")
		errs = append(errs, err)
	}
	return nil, capability.Variant{}, ModelLoadError{Path: opts.ModelPath, Reason: "no loadable variant", Err: errors.Join(errs...)}
}
