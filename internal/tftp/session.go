package tftp

import (
	"io"
	"net"
	"time"
)

// State is one of the six states the session FSM can occupy, plus Closed.
type State int

const (
	Closed State = iota
	RRQSent
	WRQSent
	DataSent
	LastDataSent
	AckSent
	LastAckSent
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case RRQSent:
		return "RRQSent"
	case WRQSent:
		return "WRQSent"
	case DataSent:
		return "DataSent"
	case LastDataSent:
		return "LastDataSent"
	case AckSent:
		return "AckSent"
	case LastAckSent:
		return "LastAckSent"
	default:
		return "Unknown"
	}
}

// Defaults for the retry/backoff chain: 6 retries starting at 50ms,
// doubling each time. Combined with the initial send this yields 7 total
// transmissions and a ~6.35s worst-case timeout (see DESIGN.md).
const (
	DefaultBackoff = 50 * time.Millisecond
	DefaultRetries = 6
)

// Direction selects whether the session performs a read (RRQ) or write
// (WRQ) request.
type Direction int

const (
	Read Direction = iota
	Write
)

// Config is the caller-supplied description of a single transfer, built by
// the orchestration shim from parsed command-line arguments.
type Config struct {
	Host       string
	Port       string
	Mode       Mode
	RemoteFile string
	Direction  Direction

	// LocalFile is the already-open stream for the local side of the
	// transfer: a writer for RRQ, a reader for WRQ. The session does not
	// open it; that is the orchestration shim's job. Session.Close closes it.
	LocalFile io.ReadWriteCloser
}

// Session is the in-memory record of exactly one TFTP transfer.
type Session struct {
	host       string
	port       string
	mode       Mode
	remoteFile string
	direction  Direction
	localFile  io.ReadWriteCloser

	conn     net.PacketConn
	peerAddr net.Addr
	locked   bool // true once peerAddr has been adopted from the first reply

	state       State
	blockNum    uint16
	outBuf      [MaxMsgSize]byte
	outLen      int
	deadline    time.Time
	backoff     time.Duration
	retriesLeft int

	// peerErr and loopErr record a terminal failure discovered during
	// dispatch, so Run can surface it after the state machine reaches
	// Closed instead of threading an error return through every
	// dispatch* helper.
	peerErr error
	loopErr error
}

// NewSession builds a Session in its pre-loop state: the socket is not yet
// bound and outBuf does not yet hold the initial request. Call BindSocket
// and then EncodeRequest before Run.
func NewSession(cfg Config) *Session {
	s := &Session{
		host:        cfg.Host,
		port:        cfg.Port,
		mode:        cfg.Mode,
		remoteFile:  cfg.RemoteFile,
		direction:   cfg.Direction,
		localFile:   cfg.LocalFile,
		state:       Closed,
		backoff:     DefaultBackoff,
		retriesLeft: DefaultRetries,
	}
	if cfg.Direction == Read {
		s.blockNum = 1
	} else {
		s.blockNum = 0
	}
	return s
}

// EncodeRequest encodes the initial RRQ or WRQ into outBuf and sets the
// entry state (RRQSent or WRQSent).
func (s *Session) EncodeRequest() error {
	var opcode Opcode
	var state State
	if s.direction == Read {
		opcode, state = OpRRQ, RRQSent
	} else {
		opcode, state = OpWRQ, WRQSent
	}
	n, err := Encode(s.outBuf[:], opcode, 0, s.remoteFile, string(s.mode), nil)
	if err != nil {
		return err
	}
	s.outLen = n
	s.state = state
	s.deadline = time.Time{}
	return nil
}

// resetProgress restores the retry budget and backoff interval; called
// whenever state or blockNum advances.
func (s *Session) resetProgress() {
	s.retriesLeft = DefaultRetries
	s.backoff = DefaultBackoff
	s.deadline = time.Time{}
}

// encodeData writes a DATA packet for blockNum carrying payload into outBuf.
func (s *Session) encodeData(blockNum uint16, payload []byte) error {
	n, err := Encode(s.outBuf[:], OpDATA, blockNum, "", "", payload)
	if err != nil {
		return err
	}
	s.outLen = n
	return nil
}

// encodeAck writes an ACK packet for blockNum into outBuf.
func (s *Session) encodeAck(blockNum uint16) error {
	n, err := Encode(s.outBuf[:], OpACK, blockNum, "", "", nil)
	if err != nil {
		return err
	}
	s.outLen = n
	return nil
}

// State returns the session's current FSM state.
func (s *Session) State() State { return s.state }

// BlockNum returns the session's current block number.
func (s *Session) BlockNum() uint16 { return s.blockNum }

// SetBackoff overrides the initial retransmission interval (milliseconds).
// Intended for WAN operators; the protocol engine's own defaults (§5) are
// tuned for a LAN demonstration and are used whenever this is left unset.
func (s *Session) SetBackoff(ms int) {
	s.backoff = time.Duration(ms) * time.Millisecond
}

// SetRetries overrides the retry budget. See SetBackoff.
func (s *Session) SetRetries(n int) {
	s.retriesLeft = n
}
