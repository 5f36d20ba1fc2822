package device

import (
	"fmt"

	"github.com/roach88/blitter/internal/blit"
)

// Request identifies a control request.
type Request uint32

const (
	// ReqConfigure installs a blit.Descriptor.
	ReqConfigure Request = iota + 1
	// ReqAddRegion appends a blit.Region.
	ReqAddRegion
	// ReqSubmit submits the pending regions. Returns the job ID.
	ReqSubmit
	// ReqWaitDone waits for the session's jobs. Returns an engine.WaitResult.
	ReqWaitDone
	// ReqCacheOp runs a CacheArg.
	ReqCacheOp
)

var requestNames = map[Request]string{
	ReqConfigure: "configure",
	ReqAddRegion: "add_region",
	ReqSubmit:    "submit",
	ReqWaitDone:  "wait_done",
	ReqCacheOp:   "cache_op",
}

func (r Request) String() string {
	if name, ok := requestNames[r]; ok {
		return name
	}
	return fmt.Sprintf("request(%d)", uint32(r))
}

// ParseRequest maps a request name back to its number.
func ParseRequest(name string) (Request, bool) {
	for r, n := range requestNames {
		if n == name {
			return r, true
		}
	}
	return 0, false
}

// CacheArg is the argument of ReqCacheOp.
type CacheArg struct {
	Range blit.MemRange       `json:"range" yaml:"range"`
	Dir   blit.CacheDirection `json:"dir" yaml:"dir"`
}
