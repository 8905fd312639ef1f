package hl7v2

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MLLP Frame Characters (Minimal Lower Layer Protocol)
const (
	MLLPStartBlock = 0x0B // Vertical Tab (VT)
	MLLPEndBlock   = 0x1C // File Separator (FS)
	MLLPCarriageR  = 0x0D // Carriage Return (CR)
)

// ErrNotConnected is returned when sending on a closed client.
var ErrNotConnected = errors.New("mllp: not connected")

// Client sends HL7 v2.x messages to a receiving system over MLLP
type Client struct {
	mu           sync.Mutex
	address      string
	conn         net.Conn
	reader       *bufio.Reader
	useTLS       bool
	tlsConfig    *tls.Config
	timeout      time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// ClientConfig holds client configuration
type ClientConfig struct {
	Address      string
	UseTLS       bool
	TLSConfig    *tls.Config
	Timeout      time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new MLLP client
func NewClient(config *ClientConfig) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	readTimeout := config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	return &Client{
		address:      config.Address,
		useTLS:       config.UseTLS,
		tlsConfig:    config.TLSConfig,
		timeout:      timeout,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Connect establishes connection to the receiving system
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := &net.Dialer{Timeout: c.timeout}

	var conn net.Conn
	var err error
	if c.useTLS {
		tlsConfig := c.tlsConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", c.address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.address)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Send frames one message, writes it and returns the acknowledgment text.
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", ErrNotConnected
	}

	writeDeadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(writeDeadline) {
		writeDeadline = d
	}
	if err := c.conn.SetWriteDeadline(writeDeadline); err != nil {
		return "", fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(WrapMLLP([]byte(Normalize(message)))); err != nil {
		c.drop()
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	readDeadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(readDeadline) {
		readDeadline = d
	}
	if err := c.conn.SetReadDeadline(readDeadline); err != nil {
		return "", fmt.Errorf("failed to set read deadline: %w", err)
	}

	frame, err := ReadMLLP(c.reader)
	if err != nil {
		c.drop()
		return "", fmt.Errorf("failed to read acknowledgment: %w", err)
	}
	return string(frame), nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

// WrapMLLP wraps a message in an MLLP frame
func WrapMLLP(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageR)
	return frame
}

// ReadMLLP reads one MLLP-framed message. Bytes before the start block are discarded.
func ReadMLLP(r *bufio.Reader) ([]byte, error) {
	if _, err := r.ReadBytes(MLLPStartBlock); err != nil {
		return nil, err
	}

	payload, err := r.ReadBytes(MLLPEndBlock)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("incomplete frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	payload = payload[:len(payload)-1]

	if b, err := r.Peek(1); err == nil && b[0] == MLLPCarriageR {
		r.ReadByte()
	}

	return payload, nil
}

// BuildAck creates an acknowledgment for the original message.
func BuildAck(original, code, text string) string {
	h := ParseHeader(original)
	now := time.Now().Format(LayoutSeconds)

	msh := strings.Join([]string{
		"MSH", "^~\\&",
		h.ReceivingApp, h.ReceivingFac,
		h.SendingApp, h.SendingFacility,
		now, "",
		"ACK" + ComponentSeparator + string(h.TriggerEvent) + ComponentSeparator + "ACK",
		uuid.New().String(), "P", firstNonEmpty(h.Version, "2.5"),
	}, FieldSeparator)
	msa := strings.Join([]string{"MSA", code, h.ControlID, text}, FieldSeparator)

	return msh + SegmentTerminator + msa + SegmentTerminator
}

// MessageHandler handles one inbound message and returns the acknowledgment.
type MessageHandler func(ctx context.Context, message string) string

// Server is an MLLP listener, used as a stand-in receiving system
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	address  string
	handler  MessageHandler
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Address string
	Handler MessageHandler
	Logger  *slog.Logger
}

// NewServer creates a new MLLP server
func NewServer(config *ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := config.Handler
	if handler == nil {
		handler = func(_ context.Context, message string) string {
			return BuildAck(message, "AA", "")
		}
	}
	return &Server{
		conns:   make(map[net.Conn]struct{}),
		address: config.Address,
		handler: handler,
		logger:  logger.With("component", "mllp.server"),
	}
}

// Start starts listening and serving connections in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptConnections(ctx, listener)
	return nil
}

// Addr returns the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every open connection, then waits for the
// accept loop and the connection handlers to end
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	if listener != nil {
		for conn := range s.conns {
			conn.Close()
		}
	}
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptConnections(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleConnection(ctx, conn)
	}
}

// track registers conn unless the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		frame, err := ReadMLLP(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("connection closed", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		ack := s.handler(ctx, string(frame))
		if _, err := conn.Write(WrapMLLP([]byte(ack))); err != nil {
			s.logger.Warn("failed to write acknowledgment", "error", err)
			return
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
