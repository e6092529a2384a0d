package xdr

import (
	"time"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
)

// nfstime3 carries unsigned 32-bit seconds, so times before the epoch
// clamp to zero.
func timeToTimeVal(t time.Time) types.TimeVal {
	if t.IsZero() || t.Unix() < 0 {
		return types.TimeVal{}
	}
	return types.TimeVal{
		Seconds:  uint32(t.Unix()),
		Nseconds: uint32(t.Nanosecond()),
	}
}

func timeValToTime(tv types.TimeVal) time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

var now = time.Now
