package ring

import "github.com/Platon7788/xshm"

// Package-level sentinels returned by TryWrite/TryRead, matching spec §4.1's
// contract (Ok | Full | TooLarge | Invalid for writes; Ok | Empty | Invalid
// for reads). ErrCorrupt surfaces a fatal header corruption (spec §7) that
// the caller should treat as a protocol error and tear the channel down.
var (
	ErrInvalidParam = xshm.NewError(xshm.ErrCodeInvalidParam, "ring", nil)
	ErrFull         = xshm.NewError(xshm.ErrCodeFull, "ring", nil)
	ErrEmpty        = xshm.NewError(xshm.ErrCodeEmpty, "ring", nil)
	ErrCorrupt      = xshm.NewError(xshm.ErrCodeProtocol, "ring", nil)
)
