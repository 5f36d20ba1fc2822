// Package device is the control surface of the blit engine.
//
// A Node is the opened device node. Each Open returns a Session bound to one
// engine context, the way a file handle is bound to its driver context.
// Sessions expose typed methods and a single Ioctl entry point that
// dispatches numbered requests, logging each one at debug level.
//
// Cache-maintenance requests are rate limited per session with a token
// bucket. An exhausted bucket yields a BUSY error.
package device
