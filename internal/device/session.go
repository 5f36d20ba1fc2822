package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/engine"
)

// Session is one open handle on the node. It is bound to a single engine
// context for its whole life.
//
// The typed methods and Ioctl may be called from several goroutines; the
// engine serializes them.
type Session struct {
	id   blit.ContextID
	node *Node

	mu     sync.Mutex
	closed bool
}

// ID returns the engine context behind the session.
func (s *Session) ID() blit.ContextID {
	if s == nil {
		return ""
	}
	return s.id
}

// Closed reports whether Close has completed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) live() error {
	if s == nil || s.node == nil {
		return &engine.Error{Code: engine.ErrCodeInvalidContext, Message: "no session"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &engine.Error{Code: engine.ErrCodeInvalidContext, Message: "session is closed", ContextID: s.id}
	}
	return nil
}

// Configure installs the blit descriptor for subsequent submissions.
func (s *Session) Configure(ctx context.Context, d blit.Descriptor) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.node.eng.Configure(ctx, s.id, d)
}

// AddRegion appends a region to the pending job.
func (s *Session) AddRegion(r blit.Region) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.node.eng.AddRegion(s.id, r)
}

// Submit submits the pending job and returns its ID.
func (s *Session) Submit() (string, error) {
	if err := s.live(); err != nil {
		return "", err
	}
	return s.node.eng.Submit(s.id)
}

// WaitDone waits for the session's jobs to finish.
func (s *Session) WaitDone(ctx context.Context) (engine.WaitResult, error) {
	if err := s.live(); err != nil {
		return engine.WaitResult{}, err
	}
	return s.node.eng.WaitDone(ctx, s.id)
}

// CacheOp runs a cache-maintenance request.
// Returns BUSY when the session has used up its request budget.
func (s *Session) CacheOp(r blit.MemRange, dir blit.CacheDirection) error {
	if err := s.live(); err != nil {
		return err
	}
	if !s.node.allowCache(s.id) {
		return &engine.Error{
			Code:      engine.ErrCodeBusy,
			Message:   "cache request rate exceeded",
			ContextID: s.id,
		}
	}
	return s.node.eng.CacheOp(s.id, r, dir)
}

// Close releases the session's context.
//
// Close is idempotent. If ctx is cancelled before the release completes the
// session stays open and may be closed again.
func (s *Session) Close(ctx context.Context) error {
	if s == nil || s.node == nil {
		return &engine.Error{Code: engine.ErrCodeInvalidContext, Message: "no session"}
	}
	if s.Closed() {
		return nil
	}

	if err := s.node.eng.Release(ctx, s.id); err != nil && !engine.IsInvalidContext(err) {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.node.forget(s.id)
	slog.Debug("session closed", "context", s.id)
	return nil
}

// Ioctl dispatches a numbered control request.
//
// Arguments and results by request:
//
//	ReqConfigure  blit.Descriptor  -> nil
//	ReqAddRegion  blit.Region      -> nil
//	ReqSubmit     nil              -> string (job ID)
//	ReqWaitDone   nil              -> engine.WaitResult
//	ReqCacheOp    CacheArg         -> nil
//
// Pointer arguments are accepted as well. An unknown request or a mistyped
// argument is INVALID_ARGUMENT; a nil or closed session is INVALID_CONTEXT.
func (s *Session) Ioctl(ctx context.Context, req Request, arg any) (any, error) {
	slog.Debug("ioctl", "context", s.ID(), "request", req.String())

	if err := s.live(); err != nil {
		return nil, err
	}

	switch req {
	case ReqConfigure:
		d, ok := argAs[blit.Descriptor](arg)
		if !ok {
			return nil, s.badArg(req, arg)
		}
		return nil, s.Configure(ctx, d)

	case ReqAddRegion:
		r, ok := argAs[blit.Region](arg)
		if !ok {
			return nil, s.badArg(req, arg)
		}
		return nil, s.AddRegion(r)

	case ReqSubmit:
		jobID, err := s.Submit()
		if err != nil {
			return nil, err
		}
		return jobID, nil

	case ReqWaitDone:
		return s.WaitDone(ctx)

	case ReqCacheOp:
		a, ok := argAs[CacheArg](arg)
		if !ok {
			return nil, s.badArg(req, arg)
		}
		return nil, s.CacheOp(a.Range, a.Dir)

	default:
		return nil, &engine.Error{
			Code:      engine.ErrCodeInvalidArgument,
			Message:   fmt.Sprintf("unknown request %s", req),
			ContextID: s.id,
		}
	}
}

func (s *Session) badArg(req Request, arg any) error {
	return &engine.Error{
		Code:      engine.ErrCodeInvalidArgument,
		Message:   fmt.Sprintf("%s: unexpected argument type %T", req, arg),
		ContextID: s.id,
	}
}

func argAs[T any](arg any) (T, bool) {
	switch v := arg.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}
