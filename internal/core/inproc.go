package core

import (
	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// connectInprocPipes links two sockets directly: no session, no engine, one
// pipe pair. Each end is attached through a Bind command so the wiring runs
// on the owner's thread regardless of which side got here first.
func connectInprocPipes(connector, binder *Base) {
	// Water marks combine both sides' views of the same queue, mirroring
	// what a transport connection would enforce across two pipes.
	connEnd, bindEnd := pipe.NewPair(
		[2]int{
			addHWM(connector.opts.RcvHWM, binder.opts.SndHWM),
			addHWM(connector.opts.SndHWM, binder.opts.RcvHWM),
		},
		[2]bool{connector.opts.Conflate, binder.opts.Conflate},
	)
	connEnd.SetMailbox(connector.mbox)
	bindEnd.SetMailbox(binder.mbox)

	command.Post(command.Command{Dest: connector, Type: command.Bind, Pipe: connEnd})
	command.Post(command.Command{Dest: binder, Type: command.Bind, Pipe: bindEnd})
}

// addHWM sums two water marks, where zero on either side means unbounded.
func addHWM(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a + b
}
