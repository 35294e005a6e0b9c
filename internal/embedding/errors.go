package embedding

import "errors"

var (
	errEmpty = errors.New("embedding file has no vector")
	errDim   = errors.New("embedding dimension mismatch")
)
