package ports

import "context"

// SocketConn is one open realtime connection carrying JSON text frames.
type SocketConn interface {
	// ReadMessage blocks until a frame arrives or the connection is closed.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type SocketDialer interface {
	Dial(ctx context.Context, rawURL string) (SocketConn, error)
}
