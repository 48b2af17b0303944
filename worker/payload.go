package worker

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/domino14/gambit/position"
)

// Requests and replies travel as protobuf Structs:
//
//	request: {"fens": ["<fen>", ...]}
//	reply:   {"scores": [<number>, ...]} or {"error": "<message>"}

const (
	fieldFENs   = "fens"
	fieldScores = "scores"
	fieldError  = "error"
)

var (
	ErrBadPayload = errors.New("malformed evaluation payload")
	ErrRemote     = errors.New("remote evaluator error")
)

func EncodeRequest(positions []position.Position) ([]byte, error) {
	fens := make([]interface{}, len(positions))
	for i, p := range positions {
		fens[i] = p.String()
	}
	s, err := structpb.NewStruct(map[string]interface{}{fieldFENs: fens})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeRequest parses the positions of a request.
func DecodeRequest(data []byte) ([]position.Position, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	list := s.GetFields()[fieldFENs].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: no %s", ErrBadPayload, fieldFENs)
	}
	positions := make([]position.Position, len(list.GetValues()))
	for i, v := range list.GetValues() {
		p, err := position.FromFEN(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("%w: position %d: %w", ErrBadPayload, i, err)
		}
		positions[i] = p
	}
	return positions, nil
}

func EncodeScores(scores []float32) ([]byte, error) {
	vals := make([]interface{}, len(scores))
	for i, sc := range scores {
		vals[i] = float64(sc)
	}
	s, err := structpb.NewStruct(map[string]interface{}{fieldScores: vals})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func EncodeError(err error) []byte {
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldError: structpb.NewStringValue(err.Error()),
	}}
	data, merr := proto.Marshal(s)
	if merr != nil {
		return []byte(err.Error())
	}
	return data
}

// DecodeScores parses a reply. A worker-side failure comes back as ErrRemote.
func DecodeScores(data []byte) ([]float32, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	fields := s.GetFields()
	if e, ok := fields[fieldError]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRemote, e.GetStringValue())
	}
	list := fields[fieldScores].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: no %s", ErrBadPayload, fieldScores)
	}
	scores := make([]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		scores[i] = float32(v.GetNumberValue())
	}
	return scores, nil
}
