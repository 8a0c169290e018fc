package hl7v2

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testADT is a minimal ADT^A01 message used across MLLP tests.
var testADT = "MSH|^~\\&|SendApp|SendFac|RecvApp|RecvFac|20240115120000||ADT^A01|MSG001|P|2.5.1\rPID|||12345||Smith^John||19800101|M"

func acceptAll(_ []byte) error { return nil }

// =========== Framing Tests ===========

func TestFrameMessage(t *testing.T) {
	raw := []byte("MSH|^~\\&|A|B|||20240115||ADT^A01|C1|P|2.5.1")
	framed := FrameMessage(raw)

	if framed[0] != MLLPStartBlock {
		t.Errorf("expected first byte 0x0B, got 0x%02X", framed[0])
	}
	if framed[len(framed)-2] != MLLPEndBlock {
		t.Errorf("expected second-to-last byte 0x1C, got 0x%02X", framed[len(framed)-2])
	}
	if framed[len(framed)-1] != MLLPCarriageReturn {
		t.Errorf("expected last byte 0x0D, got 0x%02X", framed[len(framed)-1])
	}

	inner := framed[1 : len(framed)-2]
	if !bytes.Equal(inner, raw) {
		t.Errorf("inner bytes do not match original")
	}
}

func TestUnframeMessage_Valid(t *testing.T) {
	raw := []byte("MSH|test")
	framed := FrameMessage(raw)

	msg, rest, found := UnframeMessage(framed)
	if !found {
		t.Fatal("expected found=true")
	}
	if !bytes.Equal(msg, raw) {
		t.Errorf("expected %q, got %q", raw, msg)
	}
	if len(rest) != 0 {
		t.Errorf("expected empty rest, got %d bytes", len(rest))
	}
}

func TestUnframeMessage_NoStart(t *testing.T) {
	data := []byte("no start block here")
	_, _, found := UnframeMessage(data)
	if found {
		t.Error("expected found=false when no start block present")
	}
}

func TestUnframeMessage_Partial(t *testing.T) {
	// Start block present but no end block sequence.
	data := []byte{MLLPStartBlock}
	data = append(data, []byte("MSH|partial")...)

	_, _, found := UnframeMessage(data)
	if found {
		t.Error("expected found=false for partial frame")
	}
}

func TestUnframeMessage_MultipleMessages(t *testing.T) {
	msg1 := []byte("MSG_ONE")
	msg2 := []byte("MSG_TWO")
	combined := append(FrameMessage(msg1), FrameMessage(msg2)...)

	first, rest, found := UnframeMessage(combined)
	if !found {
		t.Fatal("expected found=true for first message")
	}
	if !bytes.Equal(first, msg1) {
		t.Errorf("first message: expected %q, got %q", msg1, first)
	}

	second, rest2, found2 := UnframeMessage(rest)
	if !found2 {
		t.Fatal("expected found=true for second message")
	}
	if !bytes.Equal(second, msg2) {
		t.Errorf("second message: expected %q, got %q", msg2, second)
	}
	if len(rest2) != 0 {
		t.Errorf("expected empty rest after second message, got %d bytes", len(rest2))
	}
}

// =========== ACK Tests ===========

func TestBuildAck_AA(t *testing.T) {
	ack := string(BuildAck([]byte(testADT), AckAccept, ""))

	msa := FindSegment(ack, "MSA")
	if msa == nil {
		t.Fatal("expected MSA segment in ACK")
	}
	if got := msa.Field(1); got != "AA" {
		t.Errorf("expected MSA-1 AA, got %q", got)
	}
	if got := msa.Field(2); got != "MSG001" {
		t.Errorf("expected MSA-2 MSG001, got %q", got)
	}

	msh := FindSegment(ack, "MSH")
	if msh == nil {
		t.Fatal("expected MSH segment in ACK")
	}
	// The ACK is addressed back to the original sender.
	if got := msh.Field(4); got != "SendApp" {
		t.Errorf("expected receiving app SendApp, got %q", got)
	}
	if got := msh.Field(11); got != "2.5.1" {
		t.Errorf("expected version 2.5.1, got %q", got)
	}
}

func TestBuildAck_AEWithText(t *testing.T) {
	ack := string(BuildAck([]byte(testADT), AckError, "no PID segment"))

	msa := FindSegment(ack, "MSA")
	if msa == nil {
		t.Fatal("expected MSA segment in ACK")
	}
	if got := msa.Field(1); got != "AE" {
		t.Errorf("expected MSA-1 AE, got %q", got)
	}
	if got := msa.Field(3); got != "no PID segment" {
		t.Errorf("expected MSA-3 error text, got %q", got)
	}
}

func TestBuildAck_NoMSH(t *testing.T) {
	ack := string(BuildAck([]byte("PID|1||X"), AckAccept, ""))

	msa := FindSegment(ack, "MSA")
	if msa == nil {
		t.Fatal("expected MSA segment in ACK")
	}
	if got := msa.Field(2); got != "" {
		t.Errorf("expected empty MSA-2 without inbound control ID, got %q", got)
	}
}

// =========== Server Integration Tests ===========

func TestMLLPServer_StartStop(t *testing.T) {
	s := NewMLLPServer("127.0.0.1:0", acceptAll, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if s.Addr() == "" {
		t.Fatal("Addr() returned empty string")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestMLLPServer_ReceiveMessage(t *testing.T) {
	received := make(chan string, 1)
	handler := func(raw []byte) error {
		received <- string(raw)
		return nil
	}

	s := NewMLLPServer("127.0.0.1:0", handler, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case got := <-received:
		if got != testADT {
			t.Errorf("received message does not match sent message")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMLLPServer_SendsAcceptAck(t *testing.T) {
	s := NewMLLPServer("127.0.0.1:0", acceptAll, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ack := readMLLPResponse(t, conn, 5*time.Second)

	msa := FindSegment(string(ack), "MSA")
	if msa == nil {
		t.Fatal("ACK missing MSA segment")
	}
	if got := msa.Field(1); got != "AA" {
		t.Errorf("expected MSA-1 AA, got %q", got)
	}
	if got := msa.Field(2); got != "MSG001" {
		t.Errorf("expected MSA-2 MSG001, got %q", got)
	}
}

func TestMLLPServer_SendsErrorAck(t *testing.T) {
	handler := func(_ []byte) error {
		return errors.New("conversion failed")
	}

	s := NewMLLPServer("127.0.0.1:0", handler, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ack := readMLLPResponse(t, conn, 5*time.Second)

	msa := FindSegment(string(ack), "MSA")
	if msa == nil {
		t.Fatal("ACK missing MSA segment")
	}
	if got := msa.Field(1); got != "AE" {
		t.Errorf("expected MSA-1 AE, got %q", got)
	}
	if got := msa.Field(3); !strings.Contains(got, "conversion failed") {
		t.Errorf("expected MSA-3 to carry the error, got %q", got)
	}
}

func TestMLLPServer_MultipleMessages(t *testing.T) {
	var mu sync.Mutex
	var count int

	handler := func(_ []byte) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}

	s := NewMLLPServer("127.0.0.1:0", handler, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	for _, ctrl := range []string{"CTRL1", "CTRL2"} {
		msg := "MSH|^~\\&|A|B|C|D|20240115120000||ADT^A01|" + ctrl + "|P|2.5.1\rPID|||111||One^First||19900101|M"
		if _, err := conn.Write(FrameMessage([]byte(msg))); err != nil {
			t.Fatalf("Write %s failed: %v", ctrl, err)
		}
		readMLLPResponse(t, conn, 5*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("expected 2 messages, got %d", count)
	}
}

// readMLLPResponse reads one framed MLLP message from conn and fails the
// test on timeout.
func readMLLPResponse(t *testing.T, conn net.Conn, timeout time.Duration) []byte {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(timeout))

	var buf []byte
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if msg, _, found := UnframeMessage(buf); found {
				return msg
			}
		}
		if err != nil {
			t.Fatalf("failed to read MLLP response: %v", err)
		}
	}
}
