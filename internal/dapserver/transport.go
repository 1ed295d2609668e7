// Package dapserver implements the line-oriented Debug Adapter Protocol
// surface of webdap: a message loop over stdio that maps the lifecycle
// requests (initialize, launch, attach, disconnect) onto the session
// orchestrator and reports terminal failures as exactly one error response.
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dapserver

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"
)

// Transport frames DAP messages over a byte stream, usually the process's
// stdin/stdout pair.
type Transport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	wmu    sync.Mutex
	smu    sync.Mutex
	seq    int
}

// NewTransport creates a transport over the given streams.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		seq:    1,
	}
}

// NextSeq returns the next outgoing sequence number
func (t *Transport) NextSeq() int {
	t.smu.Lock()
	defer t.smu.Unlock()
	seq := t.seq
	t.seq++
	return seq
}

// Send sends a DAP message
func (t *Transport) Send(msg dap.Message) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}

	return nil
}

// Receive receives a DAP message
func (t *Transport) Receive() (dap.Message, error) {
	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", err)
	}
	return msg, nil
}
