package pool

import "errors"

// ErrPoolClosed is returned by Get when the pool has been closed, including
// for callers already blocked waiting for a free slot.
var ErrPoolClosed = errors.New("pool is closed")
