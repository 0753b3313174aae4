package train

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// PredictionsFromTensor converts a [batch, seq] tensor of label ids (the argmax of the logits)
// into one row per example.
func PredictionsFromTensor(t *tensors.Tensor) ([][]int, error) {
	dims := t.Shape().Dimensions
	if len(dims) != 2 {
		return nil, errors.Errorf("predictions must be shaped [batch, seq], got %s", t.Shape())
	}
	flat, err := flatInts(t)
	if err != nil {
		return nil, err
	}
	batchSize, seqLen := dims[0], dims[1]
	rows := make([][]int, batchSize)
	for i := range rows {
		rows[i] = flat[i*seqLen : (i+1)*seqLen]
	}
	return rows, nil
}

// LengthsFromTensor converts a [batch] tensor of sequence lengths.
func LengthsFromTensor(t *tensors.Tensor) ([]int, error) {
	if len(t.Shape().Dimensions) != 1 {
		return nil, errors.Errorf("lengths must be shaped [batch], got %s", t.Shape())
	}
	return flatInts(t)
}

func flatInts(t *tensors.Tensor) ([]int, error) {
	switch t.DType() {
	case dtypes.Int32:
		return toInts(tensors.MustCopyFlatData[int32](t)), nil
	case dtypes.Int64:
		return toInts(tensors.MustCopyFlatData[int64](t)), nil
	default:
		return nil, errors.Errorf("expected an Int32 or Int64 tensor, got %s", t.DType())
	}
}

func toInts[T int32 | int64](values []T) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}
