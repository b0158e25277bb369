package audit

import (
	"context"
	"time"
)

type Store interface {
	Append(ctx context.Context, r *Record) error
	List(ctx context.Context, opts ListOpts) ([]*Record, error)
}

// ListOpts filters the trail. Zero values mean "no filter"; results are
// ordered newest first.
type ListOpts struct {
	Actor  string
	Action string
	Target string
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}
