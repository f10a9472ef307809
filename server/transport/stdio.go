package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vecmcp/vecmcp/shared"
	"go.uber.org/zap"
)

// maxStdioFrameSize bounds a single newline-delimited frame on stdin. The
// size validator rejects oversized params later; this only keeps the
// scanner from choking before it gets there.
const maxStdioFrameSize = 1024 * 1024

// StdioTransport speaks the protocol over standard input and output: one
// UTF-8 JSON object per line, newline framing only. The whole process
// serves a single peer through one permanent session.
type StdioTransport struct {
	sessionManager ISessionManager
	logger         *zap.Logger
	reader         io.Reader
	writer         io.Writer
}

// NewStdio creates a stdio transport bound to the process stdin and stdout.
func NewStdio(sessionManager ISessionManager, logger *zap.Logger) *StdioTransport {
	return NewStdioWithStreams(sessionManager, logger, os.Stdin, os.Stdout)
}

// NewStdioWithStreams creates a stdio transport on arbitrary streams.
func NewStdioWithStreams(sessionManager ISessionManager, logger *zap.Logger, reader io.Reader, writer io.Writer) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		sessionManager: sessionManager,
		logger:         logger.Named("stdio"),
		reader:         reader,
		writer:         writer,
	}
}

// Serve runs the transport until ctx is cancelled, stdin reaches EOF or
// either stream fails. The session is created on entry and lives for the
// whole process; the sweeper never reclaims it.
func (t *StdioTransport) Serve(ctx context.Context) error {
	session := t.sessionManager.GetOrCreateSession("", shared.StdioSessionID, nil, shared.NewStdioRequestContext())
	logger := t.logger.With(zap.String("sessionID", session.GetID()))

	output, ok := session.AcquireOutput()
	if !ok {
		return errors.New("stdio session output already acquired")
	}
	defer session.ReleaseOutput()

	var writeMu sync.Mutex
	writer := bufio.NewWriter(t.writer)
	writeFrame := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := writer.Write(data); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
		return writer.Flush()
	}

	writeErr := make(chan error, 1)

	// Writer pump: every outbound frame leaves through here.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-output:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				data, err := json.Marshal(msg)
				if err != nil {
					logger.Error("Failed to marshal outbound frame", zap.Error(err), zap.Any("msgId", msg.ID))
					continue
				}
				if err := writeFrame(data); err != nil {
					logger.Error("Write to stdout failed", zap.Error(err))
					select {
					case writeErr <- err:
					default:
					}
					return
				}
			}
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStdioFrameSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}()

	logger.Info("Stdio transport serving")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-writeErr:
			return fmt.Errorf("stdio writer failed: %w", err)
		case err := <-readErr:
			return fmt.Errorf("stdio reader failed: %w", err)
		case line, ok := <-lines:
			if !ok {
				logger.Info("Stdin reached EOF, stopping stdio transport")
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			t.dispatchLine(session, line, writeFrame, logger)
		}
	}
}

// dispatchLine parses one inbound line and hands its messages to the
// dispatcher. A line that fails to parse is answered immediately with a
// parse-error frame carrying whatever id could be recovered.
func (t *StdioTransport) dispatchLine(session shared.ISession, line []byte, writeFrame func([]byte) error, logger *zap.Logger) {
	msgs, err := shared.ParseMessages(session, line)
	if err != nil {
		logger.Warn("Failed to parse frame from stdin", zap.Error(err))
		frame, merr := json.Marshal(shared.JSONRPCErrorResponse{
			JSONRPC: shared.JSONRPCVersion,
			ID:      shared.RecoverRequestID(line),
			Error:   shared.NewParseError(),
		})
		if merr != nil {
			logger.Error("Failed to marshal parse-error frame", zap.Error(merr))
			return
		}
		if werr := writeFrame(frame); werr != nil {
			logger.Error("Failed to write parse-error frame", zap.Error(werr))
		}
		return
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		msg.Session = session
		msg.Timestamp = time.Now()
		if putErr := session.Input().Put(msg); putErr != nil {
			logger.Warn("Failed to enqueue frame from stdin", zap.Error(putErr), zap.Any("msgId", msg.ID))
		}
	}
}
