package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"codeberg.org/mutker/jolt/internal/errors"
)

// Client is a minimal connection to the daemon socket, used by the CLI
// commands and by tests. One request at a time; Subscribe switches the
// connection into streaming mode.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	errFactory := errors.New()

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrNotRunning, err)
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, maxLineBytes),
	}, nil
}

// Call sends one request and reads one response.
func (c *Client) Call(req Request) (Response, error) {
	if err := c.Send(req); err != nil {
		return Response{}, err
	}
	return c.Next()
}

// Send writes one request line without waiting for the reply.
func (c *Client) Send(req Request) error {
	errFactory := errors.New()

	if req.V == 0 {
		req.V = ProtocolVersion
	}
	line, err := encodeRequest(req)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(line); err != nil {
		return errFactory.Wrap(errors.ErrUnavailable, err)
	}
	return nil
}

// Next reads the next response line. Blocks until the server sends
// one; used both for replies and for subscription events.
func (c *Client) Next() (Response, error) {
	errFactory := errors.New()

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, errFactory.Wrap(errors.ErrUnavailable, err)
	}
	return DecodeResponse(line)
}

// Subscribe asks for the sample stream and consumes the acknowledging
// Ok. After it returns, Next yields SampleEvents.
func (c *Client) Subscribe() error {
	resp, err := c.Call(Request{Kind: KindSubscribe, Stream: StreamSamples})
	if err != nil {
		return err
	}
	if resp.Kind == KindError {
		return errors.New().WithMessage(errors.ErrorCode(resp.Code), resp.Message)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func encodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return append(data, '\n'), nil
}
