package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Handler answers one control request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Streamer is implemented by handlers that can follow session progress.
// Stream calls emit for every update until the session is terminal, emit
// fails, or ctx ends.
type Streamer interface {
	Stream(ctx context.Context, emit func(Response) error) error
}

// Serve accepts unix-socket clients until context cancellation or listener close.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			serveConn(ctx, c, handler)
		}(conn)
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	enc := json.NewEncoder(conn)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	if req.Command != CommandWatch {
		_ = enc.Encode(handler.Handle(ctx, req))
		return
	}

	streamer, ok := handler.(Streamer)
	if !ok {
		_ = enc.Encode(Response{OK: false, Error: "watch not supported"})
		return
	}
	if err := streamer.Stream(ctx, func(resp Response) error { return enc.Encode(resp) }); err != nil && ctx.Err() == nil {
		_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("watch: %v", err)})
	}
}
