package llamacpp

import "errors"

var errNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")
