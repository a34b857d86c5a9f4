package tftp

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Run drives the session from its entry state (RRQSent or WRQSent, with
// outBuf already holding the encoded request) to Closed. It implements the
// three-phase per-iteration algorithm from the design: timed send, timed
// receive, dispatch.
//
// Run returns nil on a successful transfer and a non-nil error (ErrTimeout,
// a *PeerError, a *LocalIOError, or ctx.Err()) otherwise. The caller's
// socket and local file are not closed here; use Session.Close via defer.
func (s *Session) Run(ctx context.Context, log *logrus.Entry) error {
	for s.state != Closed {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.timedSend(log); err != nil {
			return err
		}
		if s.state == Closed {
			return nil
		}

		buf, addr, timedOut, err := s.timedReceive(ctx)
		if err != nil {
			return err
		}
		if timedOut {
			if s.retriesLeft == 0 {
				log.Warn("retry budget exhausted")
				return ErrTimeout
			}
			s.retriesLeft--
			continue
		}

		if s.locked && !s.acceptPeer(addr, log) {
			continue
		}

		prevState, prevBlock := s.state, s.blockNum
		s.dispatch(buf, log)
		if !s.locked && (s.state != prevState || s.blockNum != prevBlock) {
			s.acceptPeer(addr, log)
		}
	}

	if s.peerErr != nil {
		return s.peerErr
	}
	if s.loopErr != nil {
		return s.loopErr
	}
	return nil
}

// timedSend transmits outBuf when the deadline is zero or has passed, and
// closes out a just-delivered final ACK without waiting for a reply.
func (s *Session) timedSend(log *logrus.Entry) error {
	now := time.Now()
	if s.deadline.IsZero() || now.After(s.deadline) {
		if _, err := s.conn.WriteTo(s.outBuf[:s.outLen], s.peerAddr); err != nil {
			return wrapLocalIO("send", err)
		}
		log.WithFields(logrus.Fields{
			"state": s.state,
			"block": s.blockNum,
		}).Debug("sent packet")
	}

	if s.state == LastAckSent {
		s.state = Closed
	}
	return nil
}

// timedReceive computes the wait duration per the three-branch backoff
// discipline, then blocks on the socket for up to that long.
func (s *Session) timedReceive(ctx context.Context) (buf []byte, addr net.Addr, timedOut bool, err error) {
	now := time.Now()
	var wait time.Duration
	switch {
	case s.deadline.IsZero():
		s.deadline = now.Add(s.backoff)
		wait = s.backoff
	case now.After(s.deadline):
		s.backoff *= 2
		s.deadline = now.Add(s.backoff)
		wait = s.backoff
	default:
		wait = s.deadline.Sub(now)
	}

	if deadline, ok := ctx.Deadline(); ok && deadline.Before(now.Add(wait)) {
		wait = deadline.Sub(now)
	}

	if err := s.conn.SetReadDeadline(now.Add(wait)); err != nil {
		return nil, nil, false, wrapLocalIO("set read deadline", err)
	}

	read := make([]byte, MaxMsgSize)
	n, raddr, rerr := s.conn.ReadFrom(read)
	if rerr != nil {
		if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
			return nil, nil, true, nil
		}
		return nil, nil, false, wrapLocalIO("recv", rerr)
	}
	return read[:n], raddr, false, nil
}

// acceptPeer locks peerAddr to addr on its first call and rejects
// datagrams from any other address thereafter (strict transfer-ID
// enforcement, see DESIGN.md). Run makes that first call only after
// dispatch has accepted a reply, so a malformed or out-of-turn first
// datagram does not fix the peer.
func (s *Session) acceptPeer(addr net.Addr, log *logrus.Entry) bool {
	if !s.locked {
		s.peerAddr = addr
		s.locked = true
		return true
	}
	if addr.String() != s.peerAddr.String() {
		log.WithField("from", addr.String()).Debug("dropping datagram from foreign transfer-ID")
		return false
	}
	return true
}

// dispatch decodes and handles one received datagram per the state x
// opcode table. Malformed or out-of-turn datagrams are dropped without
// consuming the retry budget.
func (s *Session) dispatch(buf []byte, log *logrus.Entry) {
	opcode, err := DecodeOpcode(buf)
	if err != nil {
		log.Debug("dropping datagram with no opcode")
		return
	}

	if opcode == OpERROR {
		code, text, derr := DecodeError(buf)
		if derr != nil {
			log.Debug("dropping malformed error packet")
			return
		}
		log.WithFields(logrus.Fields{"code": code, "text": text}).Error("peer reported error")
		s.state = Closed
		s.peerErr = &PeerError{Code: code, Text: text}
		return
	}

	switch s.state {
	case WRQSent, DataSent:
		s.dispatchAck(opcode, buf, log)
	case LastDataSent:
		s.dispatchFinalAck(opcode, buf, log)
	case RRQSent, AckSent:
		s.dispatchData(opcode, buf, log)
	default:
		log.Debug("dropping datagram in terminal state")
	}
}

func (s *Session) dispatchAck(opcode Opcode, buf []byte, log *logrus.Entry) {
	if opcode != OpACK {
		log.WithField("opcode", opcode).Debug("unexpected message ignored")
		return
	}
	blockNum, err := DecodeBlockNum(buf)
	if err != nil {
		log.Debug("dropping malformed ack")
		return
	}
	if blockNum != s.blockNum {
		log.WithFields(logrus.Fields{"got": blockNum, "want": s.blockNum}).Debug("dropping ack for unexpected block")
		return
	}

	payload := make([]byte, BlockSize)
	n, rerr := io.ReadFull(s.localFile, payload)
	if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
		s.loopErr = wrapLocalIO("read local file", rerr)
		s.state = Closed
		return
	}

	s.blockNum++
	if err := s.encodeData(s.blockNum, payload[:n]); err != nil {
		s.loopErr = err
		s.state = Closed
		return
	}
	s.resetProgress()
	if n == BlockSize {
		s.state = DataSent
	} else {
		s.state = LastDataSent
	}
}

func (s *Session) dispatchFinalAck(opcode Opcode, buf []byte, log *logrus.Entry) {
	if opcode != OpACK {
		log.WithField("opcode", opcode).Debug("unexpected message ignored")
		return
	}
	blockNum, err := DecodeBlockNum(buf)
	if err != nil {
		log.Debug("dropping malformed ack")
		return
	}
	if blockNum != s.blockNum {
		log.Debug("dropping ack for unexpected block")
		return
	}
	s.state = Closed
}

func (s *Session) dispatchData(opcode Opcode, buf []byte, log *logrus.Entry) {
	if opcode != OpDATA {
		log.WithField("opcode", opcode).Debug("unexpected message ignored")
		return
	}
	blockNum, err := DecodeBlockNum(buf)
	if err != nil {
		log.Debug("dropping malformed data packet")
		return
	}
	if blockNum != s.blockNum {
		log.WithFields(logrus.Fields{"got": blockNum, "want": s.blockNum}).Debug("dropping stale data block")
		return
	}

	payload, derr := DecodeData(buf)
	if derr != nil {
		log.Debug("dropping short data packet")
		return
	}

	if _, werr := s.localFile.Write(payload); werr != nil {
		s.loopErr = wrapLocalIO("write local file", werr)
		s.state = Closed
		return
	}

	if err := s.encodeAck(s.blockNum); err != nil {
		s.loopErr = err
		s.state = Closed
		return
	}
	s.resetProgress()
	s.blockNum++
	if len(payload) == BlockSize {
		s.state = AckSent
	} else {
		s.state = LastAckSent
	}
}
