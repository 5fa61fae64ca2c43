package core

import (
	"time"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// Option keys settable on a socket. Timing options take time.Duration,
// switches take bool, water marks take int, Subscribe/Unsubscribe take
// []byte or string, Join/Leave take string.
type Option int

const (
	SndHWM Option = iota
	RcvHWM
	Linger
	SndTimeo
	RcvTimeo
	ReconnectIvl
	ReconnectIvlMax
	ConnectTimeout
	HandshakeIvl
	ReconnectStopConnRefused
	MaxMsgSize
	Conflate
	XPubNoDrop
	OnlyFirstSubscribe
	XSubVerboseUnsubscribe
	ReqCorrelate
	ReqRelaxed
	GreedyClub
	Subscribe
	Unsubscribe
	Join
	Leave
	TopicsCount
	LastEndpoint
)

// SetOption changes a socket option. Options affecting sessions and engines
// apply to connections made after the call.
func (b *Base) SetOption(opt Option, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.ErrNotSock
	}

	// Pattern-specific options first.
	if po, ok := b.pattern.(patternOptions); ok {
		switch opt {
		case Subscribe, Unsubscribe, Join, Leave:
			return po.setOption(opt, v)
		}
	}

	switch opt {
	case SndHWM:
		return setInt(&b.opts.SndHWM, v, 0)
	case RcvHWM:
		return setInt(&b.opts.RcvHWM, v, 0)
	case MaxMsgSize:
		n, ok := v.(int64)
		if !ok {
			return errs.ErrInval
		}
		b.opts.MaxMsgSize = n
		return nil
	case Linger:
		return setDur(&b.opts.Linger, v)
	case SndTimeo:
		return setDur(&b.opts.SndTimeo, v)
	case RcvTimeo:
		return setDur(&b.opts.RcvTimeo, v)
	case ReconnectIvl:
		return setDur(&b.opts.ReconnectIvl, v)
	case ReconnectIvlMax:
		return setDur(&b.opts.ReconnectIvlMax, v)
	case ConnectTimeout:
		return setDur(&b.opts.ConnectTimeout, v)
	case HandshakeIvl:
		return setDur(&b.opts.HandshakeIvl, v)
	case ReconnectStopConnRefused:
		return setBool(&b.opts.ReconnectStopConnRefused, v)
	case Conflate:
		return setBool(&b.opts.Conflate, v)
	case XPubNoDrop:
		return setBool(&b.opts.XPubNoDrop, v)
	case OnlyFirstSubscribe:
		return setBool(&b.opts.OnlyFirstSubscribe, v)
	case XSubVerboseUnsubscribe:
		return setBool(&b.opts.XSubVerboseUnsubscribe, v)
	case ReqCorrelate:
		return setBool(&b.opts.ReqCorrelate, v)
	case ReqRelaxed:
		return setBool(&b.opts.ReqRelaxed, v)
	case GreedyClub:
		return setBool(&b.opts.GreedyClub, v)
	default:
		return errs.ErrInval
	}
}

// GetOption reads a socket option.
func (b *Base) GetOption(opt Option) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errs.ErrNotSock
	}

	if po, ok := b.pattern.(patternOptions); ok {
		if v, handled := po.getOption(opt); handled {
			return v, nil
		}
	}

	switch opt {
	case SndHWM:
		return b.opts.SndHWM, nil
	case RcvHWM:
		return b.opts.RcvHWM, nil
	case Linger:
		return b.opts.Linger, nil
	case SndTimeo:
		return b.opts.SndTimeo, nil
	case RcvTimeo:
		return b.opts.RcvTimeo, nil
	case ReconnectIvl:
		return b.opts.ReconnectIvl, nil
	case ReconnectIvlMax:
		return b.opts.ReconnectIvlMax, nil
	case ConnectTimeout:
		return b.opts.ConnectTimeout, nil
	case HandshakeIvl:
		return b.opts.HandshakeIvl, nil
	case ReconnectStopConnRefused:
		return b.opts.ReconnectStopConnRefused, nil
	case MaxMsgSize:
		return b.opts.MaxMsgSize, nil
	case Conflate:
		return b.opts.Conflate, nil
	case XPubNoDrop:
		return b.opts.XPubNoDrop, nil
	case OnlyFirstSubscribe:
		return b.opts.OnlyFirstSubscribe, nil
	case XSubVerboseUnsubscribe:
		return b.opts.XSubVerboseUnsubscribe, nil
	case ReqCorrelate:
		return b.opts.ReqCorrelate, nil
	case ReqRelaxed:
		return b.opts.ReqRelaxed, nil
	case GreedyClub:
		return b.opts.GreedyClub, nil
	case LastEndpoint:
		return b.lastEndpoint, nil
	default:
		return nil, errs.ErrInval
	}
}

func setInt(dst *int, v any, minVal int) error {
	n, ok := v.(int)
	if !ok || n < minVal {
		return errs.ErrInval
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v any) error {
	bv, ok := v.(bool)
	if !ok {
		return errs.ErrInval
	}
	*dst = bv
	return nil
}

func setDur(dst *time.Duration, v any) error {
	d, ok := v.(time.Duration)
	if !ok {
		return errs.ErrInval
	}
	*dst = d
	return nil
}
