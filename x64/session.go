package x64

import "fmt"

// ArgLocation is the machine location of one function argument, resolved
// externally (by the register-allocation collaborator) and handed to a
// Session so arg_dbg_info instructions can describe it.
type ArgLocation struct {
	IsRegister  bool
	Reg         Register
	StackOffset int32
}

// ArgLocations is the externally-supplied argument vector arg_dbg_info's
// machine locations are read from, indexed by argument index.
type ArgLocations []ArgLocation

func (a ArgLocations) resolve(argIndex uint32) (ArgLocation, bool) {
	if int(argIndex) >= len(a) {
		return ArgLocation{}, false
	}
	return a[argIndex], true
}

// Option configures a Session (the functional-options pattern, same shape
// this core's ambient configuration layer uses elsewhere).
type Option func(*Session)

// WithDebugSink selects the debug-output collaborator. The default is
// NoneSink.
func WithDebugSink(sink DebugSink) Option {
	return func(s *Session) { s.debug = sink }
}

// WithArgLocations supplies the argument-location vector arg_dbg_info
// instructions resolve against.
func WithArgLocations(locs ArgLocations) Option {
	return func(s *Session) { s.argLocs = locs }
}

// Session is one function body's lowering run: it owns the code buffer, the
// offset map, and the pending relocation list for the duration of the
// lowering. A Session is single-use: call Lower once, then read its
// accessors.
type Session struct {
	enc *Encoder

	offsetMap []int // dense, keyed by MIR index; -1 means unrecorded.
	relocs    []Relocation
	externRelocs []ExternRelocation

	debug   DebugSink
	argLocs ArgLocations

	err *IselFail
}

// NewSession constructs a Session ready to lower one function body.
func NewSession(opts ...Option) *Session {
	s := &Session{
		enc:   NewEncoder(),
		debug: NoneSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Code returns the accumulated machine code. Valid after Lower returns nil.
func (s *Session) Code() []byte { return s.enc.Bytes() }

// OffsetMap returns the MIR-index -> code-offset mapping built during
// lowering.
func (s *Session) OffsetMap() []int { return s.offsetMap }

// ExternRelocations returns the relocation records to push to the linker.
func (s *Session) ExternRelocations() []ExternRelocation { return s.externRelocs }

// DebugSink returns the debug collaborator the session was configured
// with, for a caller that wants to read its accumulated buffers.
func (s *Session) DebugSink() DebugSink { return s.debug }

// Err returns the session-scoped error slot: nil, or the single IselFail
// that aborted the session.
func (s *Session) Err() *IselFail { return s.err }

// fail populates the session's error slot exactly once and returns it,
// matching every later call with the same failure rather than silently
// discarding it.
func (s *Session) fail(mirIndex int, msg string, err error) *IselFail {
	if s.err == nil {
		s.err = &IselFail{MIRIndex: mirIndex, Msg: msg, Err: err}
	}
	return s.err
}

func (s *Session) recordOffset(i int) {
	if s.offsetMap[i] != -1 {
		panic(fmt.Sprintf("BUG: offset for mir index %d already recorded", i))
	}
	s.offsetMap[i] = s.enc.Len()
}
