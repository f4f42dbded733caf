package encoder

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/tensor"
)

// The joint tensor is canonically (B, T, N, d): batch, instances (target then
// neighbours), positions (label marker then fields), embedding width. The two
// views below are the only ways blocks reinterpret it.

// PerInstanceView flattens (B, T, N, d) into (B*T, N, d) so attention mixes
// the positions of one instance.
func PerInstanceView(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 4 {
		return nil, errors.Wrapf(ErrShape, "per-instance view of %v", x.Shape())
	}
	s := x.Shape()
	return x.Reshape(s[0]*s[1], s[2], s[3])
}

// FromPerInstanceView inverts PerInstanceView.
func FromPerInstanceView(v *tensor.Tensor, b, t int) (*tensor.Tensor, error) {
	if v.Rank() != 3 || v.Dim(0) != b*t {
		return nil, errors.Wrapf(ErrShape, "per-instance view %v is not %dx%d rows", v.Shape(), b, t)
	}
	return v.Reshape(b, t, v.Dim(1), v.Dim(2))
}

// PerPositionView swaps the instance and position axes and flattens into
// (B*N, T, d) so attention mixes all instances at one field position.
func PerPositionView(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 4 {
		return nil, errors.Wrapf(ErrShape, "per-position view of %v", x.Shape())
	}
	swapped, err := tensor.SwapAxes(x, 1, 2)
	if err != nil {
		return nil, err
	}
	s := swapped.Shape()
	return swapped.Reshape(s[0]*s[1], s[2], s[3])
}

// FromPerPositionView inverts PerPositionView back to (B, T, N, d).
func FromPerPositionView(v *tensor.Tensor, b, n int) (*tensor.Tensor, error) {
	if v.Rank() != 3 || v.Dim(0) != b*n {
		return nil, errors.Wrapf(ErrShape, "per-position view %v is not %dx%d rows", v.Shape(), b, n)
	}
	unflat, err := v.Reshape(b, n, v.Dim(1), v.Dim(2))
	if err != nil {
		return nil, err
	}
	return tensor.SwapAxes(unflat, 1, 2)
}
