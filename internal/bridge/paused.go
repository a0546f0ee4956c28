package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/mafredri/cdp/protocol/debugger"
	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/protocol"
	"github.com/bingosuite/inspector/internal/translate"
)

// PausedContext is one stop of the debuggee. Every call frame id and object
// id it hands out carries its generation, and resolves only while the
// context is open.
type PausedContext struct {
	dbg        debuggee.Debuggee
	generation uint64
	event      debuggee.PauseEvent
	frameCount int
	handles    map[int]struct{}
	closed     bool
}

type callFrameToken struct {
	Ordinal    int    `json:"ordinal"`
	Generation uint64 `json:"pause"`
}

type objectToken struct {
	Handle     int    `json:"handle"`
	Generation uint64 `json:"pause"`
}

func newPausedContext(d debuggee.Debuggee, generation uint64, ev debuggee.PauseEvent) (*PausedContext, error) {
	n, err := d.StackFrameCount()
	if err != nil {
		return nil, fmt.Errorf("failed to get stack frame count: %w", err)
	}
	return &PausedContext{
		dbg:        d,
		generation: generation,
		event:      ev,
		frameCount: n,
		handles:    make(map[int]struct{}),
	}, nil
}

func (p *PausedContext) Generation() uint64 { return p.generation }

func (p *PausedContext) Reason() debuggee.PauseReason { return p.event.Reason }

func (p *PausedContext) FrameCount() int { return p.frameCount }

func (p *PausedContext) Debuggee() debuggee.Debuggee { return p.dbg }

func (p *PausedContext) CallFrameID(index int) debugger.CallFrameID {
	raw, _ := json.Marshal(callFrameToken{Ordinal: index, Generation: p.generation})
	return debugger.CallFrameID(raw)
}

// ObjectID registers handle with this pause and returns its client-facing id.
func (p *PausedContext) ObjectID(handle int) runtime.RemoteObjectID {
	p.handles[handle] = struct{}{}
	raw, _ := json.Marshal(objectToken{Handle: handle, Generation: p.generation})
	return runtime.RemoteObjectID(raw)
}

// CallFrames translates the whole stack. One frame failing fails the lot.
func (p *PausedContext) CallFrames() ([]debugger.CallFrame, error) {
	if p.closed {
		return nil, debuggee.ErrStaleHandle
	}
	frames := make([]debugger.CallFrame, 0, p.frameCount)
	for i := 0; i < p.frameCount; i++ {
		cf, err := translate.FrameToCallFrame(p, i)
		if err != nil {
			return nil, fmt.Errorf("failed to translate frame %d: %w", i, err)
		}
		frames = append(frames, cf)
	}
	return frames, nil
}

// Frame resolves a call frame id to a frame index.
func (p *PausedContext) Frame(id debugger.CallFrameID) (int, error) {
	tok, err := parseCallFrameID(id)
	if err != nil {
		return 0, err
	}
	if p == nil || p.closed || tok.Generation != p.generation {
		return 0, fmt.Errorf("call frame %s: %w", id, debuggee.ErrStaleHandle)
	}
	if tok.Ordinal < 0 || tok.Ordinal >= p.frameCount {
		return 0, fmt.Errorf("call frame %s: %w", id, debuggee.ErrNotFound)
	}
	return tok.Ordinal, nil
}

// Object resolves an object id handed out by this pause to its engine handle.
func (p *PausedContext) Object(id runtime.RemoteObjectID) (int, error) {
	tok, err := parseObjectID(id)
	if err != nil {
		return 0, err
	}
	if p == nil || p.closed || tok.Generation != p.generation {
		return 0, fmt.Errorf("object %s: %w", id, debuggee.ErrStaleHandle)
	}
	if _, ok := p.handles[tok.Handle]; !ok {
		return 0, fmt.Errorf("object %s: %w", id, debuggee.ErrNotFound)
	}
	return tok.Handle, nil
}

// Release forgets one object id.
func (p *PausedContext) Release(id runtime.RemoteObjectID) error {
	h, err := p.Object(id)
	if err != nil {
		return err
	}
	delete(p.handles, h)
	return nil
}

// Close ends the pause. Later lookups fail with debuggee.ErrStaleHandle.
func (p *PausedContext) Close() {
	p.closed = true
	p.handles = nil
}

func parseCallFrameID(id debugger.CallFrameID) (callFrameToken, error) {
	var tok callFrameToken
	if err := strictUnmarshal(string(id), &tok); err != nil {
		return tok, protocol.Errorf(protocol.CodeInvalidParams, "invalid callFrameId %q", string(id))
	}
	return tok, nil
}

func parseObjectID(id runtime.RemoteObjectID) (objectToken, error) {
	var tok objectToken
	if err := strictUnmarshal(string(id), &tok); err != nil {
		return tok, protocol.Errorf(protocol.CodeInvalidParams, "invalid objectId %q", string(id))
	}
	return tok, nil
}

func strictUnmarshal(s string, v any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return err
	}
	if _, ok := fields["pause"]; !ok {
		return fmt.Errorf("missing pause generation")
	}
	return json.Unmarshal([]byte(s), v)
}
