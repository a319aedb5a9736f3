package trace

import (
	"context"
	"errors"
	"sync"

	"github.com/mklimuk/i2cdevice"
)

// Stats counts transactions per outcome.
type Stats struct {
	mx  sync.Mutex
	Num struct {
		All        int
		Oversize   int
		Short      int
		FrameClose int
		NotPresent int
		Other      int
	}
	Bytes struct {
		Written int
		Read    int
	}
}

func (st *Stats) Trace(ctx context.Context, ev i2cdevice.Event) {
	st.mx.Lock()
	defer st.mx.Unlock()
	st.update(ev)
}

func (st *Stats) update(ev i2cdevice.Event) {
	st.Num.All++
	err := ev.Err
	switch {
	case err == nil:
		switch ev.Op {
		case i2cdevice.OpWrite:
			st.Bytes.Written += len(ev.Prefix) + len(ev.Data)
		case i2cdevice.OpRead:
			st.Bytes.Read += len(ev.Data)
		}
	case errors.Is(err, i2cdevice.ErrOversizeRequest):
		st.Num.Oversize++
	case errors.Is(err, i2cdevice.ErrShortTransfer):
		st.Num.Short++
	case errors.Is(err, i2cdevice.ErrFrameClose):
		st.Num.FrameClose++
	case errors.Is(err, i2cdevice.ErrNotPresent):
		st.Num.NotPresent++
	default:
		st.Num.Other++
	}
}

// Failed returns the number of transactions that ended with an error.
func (st *Stats) Failed() int {
	st.mx.Lock()
	defer st.mx.Unlock()
	return st.Num.Oversize + st.Num.Short + st.Num.FrameClose + st.Num.NotPresent + st.Num.Other
}

func (st *Stats) Percentage(num int) float64 {
	st.mx.Lock()
	defer st.mx.Unlock()
	if st.Num.All == 0 {
		return 0
	}
	return 100 * float64(num) / float64(st.Num.All)
}
