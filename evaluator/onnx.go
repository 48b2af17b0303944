package evaluator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/domino14/gambit/cache"
	"github.com/domino14/gambit/position"
)

const (
	NNPlanes   = position.NumPieces
	NNH, NNW   = 8, 8
	NNPlaneLen = NNPlanes * NNH * NNW
	NNScalars  = 1
	NNRowLen   = NNPlaneLen + NNScalars

	// ScoreScale converts the model's tanh output into centipawn-like units.
	ScoreScale = 1000.0
)

var ErrNoModel = errors.New("no onnx model")

// featureBuffers holds backing slices for batch tensors. Buffers are only
// returned to the pool after inference finishes with them.
var featureBuffers = sync.Pool{
	New: func() interface{} {
		v := make([]float32, 0, 32*NNRowLen)
		return &v
	},
}

// modelTemplate holds the raw ONNX model data.
type modelTemplate struct {
	data   []byte
	digest uint64
}

// newInstance creates a runnable graph from the template. Graph shapes are
// fixed when the model is unmarshaled, so every batch gets its own instance.
func (t *modelTemplate) newInstance() (*gorgonnx.Graph, *onnx.Model, error) {
	start := time.Now()
	defer func() {
		log.Debug().Int64("onnx-model-init-ms", time.Since(start).Milliseconds()).
			Msg("onnx model instance created")
	}()
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(t.data); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal ONNX model: %w", err)
	}
	return backend, model, nil
}

func loadModel(key string) (interface{}, error) {
	path, ok := strings.CutPrefix(key, "onnx:")
	if !ok || path == "" {
		return nil, errors.New("onnx loader - bad cache key: " + key)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}
	t := &modelTemplate{data: data, digest: xxhash.Sum64(data)}
	log.Info().Str("path", path).
		Int("model-size", len(data)).
		Str("digest", fmt.Sprintf("%016x", t.digest)).
		Msg("loaded-onnx-model")
	return t, nil
}

// ONNX evaluates positions with a neural network. The model takes a
// N×12×8×8 piece-plane tensor and a N×1 side-to-move tensor, and returns a
// white-relative value in [-1, 1].
type ONNX struct {
	template *modelTemplate
	// inference is not reentrant
	mu sync.Mutex
}

func NewONNX(path string) (*ONNX, error) {
	obj, err := cache.Load("onnx:"+path, loadModel)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*modelTemplate)
	if !ok {
		return nil, errors.New("failed to type-assert ONNX model template")
	}
	return &ONNX{template: t}, nil
}

// Digest identifies the loaded model.
func (e *ONNX) Digest() uint64 {
	return e.template.digest
}

// EncodeFeatures writes the network input for p into dst, which must hold
// NNRowLen values.
func EncodeFeatures(p position.Position, dst []float32) error {
	sq, err := placement(p)
	if err != nil {
		return err
	}
	clear(dst[:NNRowLen])
	for s, pc := range sq {
		if pc == position.NoPiece {
			continue
		}
		dst[int(pc-1)*NNH*NNW+s] = 1
	}
	if p.WhiteToMove() {
		dst[NNPlaneLen] = 1
	}
	return nil
}

func (e *ONNX) ScoreBatch(ctx context.Context, positions []position.Position) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(positions)
	if n == 0 {
		return nil, nil
	}

	bufPtr := featureBuffers.Get().(*[]float32)
	defer featureBuffers.Put(bufPtr)
	buf := *bufPtr
	if cap(buf) < n*NNRowLen {
		buf = make([]float32, n*NNRowLen)
	}
	buf = buf[:n*NNRowLen]
	*bufPtr = buf

	// planes first, then all the scalars
	planes := buf[:n*NNPlaneLen]
	scalars := buf[n*NNPlaneLen:]
	row := make([]float32, NNRowLen)
	for i, p := range positions {
		if err := EncodeFeatures(p, row); err != nil {
			return nil, err
		}
		copy(planes[i*NNPlaneLen:], row[:NNPlaneLen])
		copy(scalars[i*NNScalars:], row[NNPlaneLen:])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	backend, model, err := e.template.newInstance()
	if err != nil {
		return nil, err
	}
	boardTensor := tensor.New(tensor.WithShape(n, NNPlanes, NNH, NNW), tensor.WithBacking(planes))
	scalTensor := tensor.New(tensor.WithShape(n, NNScalars), tensor.WithBacking(scalars))
	if err := model.SetInput(0, boardTensor); err != nil {
		return nil, fmt.Errorf("failed to set board input: %w", err)
	}
	if err := model.SetInput(1, scalTensor); err != nil {
		return nil, fmt.Errorf("failed to set scalar input: %w", err)
	}

	log.Debug().Int("num-positions", n).Msg("evaluating positions with local ONNX model")
	if err := backend.Run(); err != nil {
		return nil, fmt.Errorf("failed to run ONNX model: %w", err)
	}
	output, err := model.GetOutputTensors()
	if err != nil {
		return nil, fmt.Errorf("failed to get output tensors: %w", err)
	}
	if len(output) == 0 {
		return nil, errors.New("model produced no outputs")
	}

	var evals []float32
	switch v := output[0].Data().(type) {
	case []float32:
		evals = v
	case float32:
		evals = []float32{v}
	default:
		return nil, fmt.Errorf("unexpected output type: %T", v)
	}
	if len(evals) != n {
		return nil, fmt.Errorf("model returned %d values for %d positions", len(evals), n)
	}

	out := make([]float32, n)
	for i, p := range positions {
		out[i] = sideRelative(p, evals[i]*ScoreScale)
	}
	return out, nil
}
