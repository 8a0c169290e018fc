package hl7v2

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT / vertical tab).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS / file separator).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	// mllpMaxMessageSize is the maximum buffer size for a single MLLP message (1 MB).
	mllpMaxMessageSize = 1 << 20

	// mllpReadTimeout is the read deadline applied to each connection.
	mllpReadTimeout = 30 * time.Second
)

// MessageHandler processes one unframed HL7 v2 message. A nil return is
// acknowledged with AA; an error is acknowledged with AE carrying the error
// text in MSA-3.
type MessageHandler func(raw []byte) error

// MLLPServer accepts HL7 v2 messages over MLLP/TCP and hands each one to a
// MessageHandler. It is the wire-native ingestion path alongside the HTTP
// API: integration engines that speak MLLP can stream ADT feeds straight
// into the converter.
type MLLPServer struct {
	addr     string
	handler  MessageHandler
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewMLLPServer creates a server that will listen on addr and dispatch each
// received message to handler.
func NewMLLPServer(addr string, handler MessageHandler, logger zerolog.Logger) *MLLPServer {
	return &MLLPServer{
		addr:    addr,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Start begins listening for connections. It is non-blocking: the accept
// loop runs in a background goroutine.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Stop closes the listener and all tracked connections, then waits for the
// handler goroutines to finish.
func (s *MLLPServer) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listener address string, useful when the server was
// started with port 0.
func (s *MLLPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *MLLPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error().Err(err).Msg("mllp accept error")
			return
		}

		s.trackConn(conn, true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *MLLPServer) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConnection reads MLLP-framed messages from conn, dispatches each to
// the handler, and writes back the ACK.
func (s *MLLPServer) handleConnection(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(mllpReadTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			if len(buf) > mllpMaxMessageSize {
				s.logger.Warn().Str("remote", conn.RemoteAddr().String()).
					Msg("mllp message exceeds max size, closing connection")
				return
			}

			for {
				msgBytes, rest, found := UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest

				s.processMessage(conn, msgBytes)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle with no partial frame pending: drop the connection.
				if len(buf) == 0 {
					return
				}
				continue
			}
			return
		}
	}
}

// processMessage runs the handler for one message and acknowledges the
// result: AA when the handler succeeds, AE with the error text otherwise.
func (s *MLLPServer) processMessage(conn net.Conn, raw []byte) {
	code := AckAccept
	text := ""
	if err := s.handler(raw); err != nil {
		code = AckError
		text = err.Error()
		s.logger.Warn().Err(err).Msg("mllp message rejected")
	}

	framed := FrameMessage(BuildAck(raw, code, text))

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(framed); err != nil {
		s.logger.Error().Err(err).Msg("mllp ack write error")
	}
}

// ---------------------------------------------------------------------------
// MLLP framing helpers
// ---------------------------------------------------------------------------

// FrameMessage wraps raw HL7 v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts HL7 v2 bytes from an MLLP frame. It looks for the
// first start block byte, then reads until end block + CR. It returns the
// extracted message, any remaining bytes after the frame, and whether a
// complete frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{MLLPEndBlock, MLLPCarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	message = data[startIdx+1 : endIdx]
	rest = data[endIdx+2:]
	found = true
	return
}

// ---------------------------------------------------------------------------
// ACK generation
// ---------------------------------------------------------------------------

// ACK codes for MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// BuildAck produces an HL7 v2 ACK for the given incoming message. The
// sending and receiving applications are swapped from the original MSH and
// the original control ID (MSH-10) is echoed in MSA-2. text, when non-empty,
// is carried in MSA-3.
func BuildAck(incoming []byte, code, text string) []byte {
	controlID := ""
	version := "2.4"
	recvApp, recvFac := "", ""
	// MSH-1 is the field separator itself, so split indexes sit one below
	// the HL7 field number: MSH-3 is Fields[2], MSH-10 is Fields[9].
	if msh := FindSegment(string(incoming), "MSH"); msh != nil {
		recvApp = msh.Field(2)
		recvFac = msh.Field(3)
		controlID = msh.Field(9)
		if v := msh.Field(11); v != "" {
			version = v
		}
	}

	now := time.Now().UTC()
	ts := now.Format("20060102150405")
	ackID := "ACK" + now.Format("20060102150405.000")

	msh := strings.Join([]string{
		"MSH", "^~\\&", "NHCX", "CONVERTER", recvApp, recvFac, ts, "", "ACK", ackID, "P", version,
	}, "|")

	msaFields := []string{"MSA", code, controlID}
	if text != "" {
		msaFields = append(msaFields, text)
	}
	msa := strings.Join(msaFields, "|")

	return []byte(msh + "\r" + msa)
}
