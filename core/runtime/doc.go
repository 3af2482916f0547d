// Package runtime runs wallet actors.
//
// A [Runtime] is created with [New], started with [Runtime.Init] and stopped
// with [Runtime.Shutdown]. Between the two, [Runtime.SendMessage] decodes a
// textual message into an envelope, assigns it a correlation id and hands it
// to the [Scheduler]:
//
//	rt := runtime.New(runtime.Options{Messages: reg, MailboxSize: 1024}, factory)
//	if err := rt.Init(); err != nil {
//	    return err
//	}
//	id, err := rt.SendMessage(msg, func(res runtime.Result) {
//	    fmt.Println(string(res.Encode()))
//	})
//
// Structural failures (not initialized, shut down, malformed message, full
// inbox) are returned synchronously and never reach the callback. Every
// accepted message reaches its callback exactly once, with a value, an
// operation failure, or [ErrCancelled].
//
// # Scheduling
//
// Each actor id has a FIFO inbox. A fixed pool of workers takes runnable
// actors from a shared ready queue; an actor processes one envelope at a
// time, so its state mutations happen in arrival order. When a handler
// suspends on I/O the worker returns to the pool and the continuation is
// queued once the I/O completes.
//
// # Callbacks
//
// The [CallbackRegistry] maps correlation ids to callbacks. Callbacks run
// outside of any lock; a panicking callback is logged and contained.
// Cancelling a queued message fires its callback immediately and the
// scheduler later skips the envelope.
package runtime
