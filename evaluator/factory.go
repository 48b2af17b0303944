package evaluator

import (
	"fmt"

	"github.com/domino14/gambit/config"
)

const (
	KindMaterial = "material"
	KindPST      = "pst"
	KindONNX     = "onnx"
)

// New builds the in-process evaluator named by the evaluator config key.
// Remote evaluators are built by their transport packages.
func New(cfg *config.Config) (Evaluator, error) {
	switch kind := cfg.GetString(config.ConfigEvaluator); kind {
	case KindMaterial:
		return Material{}, nil
	case KindPST:
		return PST{}, nil
	case KindONNX:
		return NewONNX(cfg.GetString(config.ConfigModelPath))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
