package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cruciblehq/cruxdeb/internal/paths"
)

// Talks to a running daemon over its socket.
type Client struct {
	SocketPath string // Empty uses the default socket.
}

// Sends one command and decodes the reply into out, which may be nil.
//
// A CmdError reply is returned as an error wrapping [ErrDaemon]. Cancelling
// ctx closes the connection, which the daemon treats as a disconnect and
// cancels the running build.
func (c *Client) Do(ctx context.Context, cmd Command, payload, out any) error {
	socketPath := c.SocketPath
	if socketPath == "" {
		socketPath = paths.Socket()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("%w: is the daemon running? %w", ErrServer, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	data, err := Encode(cmd, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrServer, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrServer, err)
	}

	env, raw, err := Decode(line)
	if err != nil {
		return err
	}

	switch env.Command {
	case CmdOK:
	case CmdError:
		res, err := DecodePayload[ErrorResult](raw)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrDaemon, res.Message)
	default:
		return fmt.Errorf("%w: unexpected reply %q", ErrProtocol, env.Command)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	return decodeInto(raw, out)
}
