package subscription

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// WebSocketSource opens streams against a review service's websocket
// endpoint.
type WebSocketSource struct {
	baseURL string
	header  http.Header
	dialer  *websocket.Dialer
}

// NewWebSocketSource creates a Source for the service at baseURL
// (http, https, ws or wss). header is sent with every handshake.
func NewWebSocketSource(baseURL string, header http.Header) *WebSocketSource {
	return &WebSocketSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// StreamURL returns the websocket URL for coachID.
func (s *WebSocketSource) StreamURL(coachID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("ws", "coaches", coachID, "reviews")
	return u.String(), nil
}

// Open dials the stream for coachID.
func (s *WebSocketSource) Open(ctx context.Context, coachID string) (Stream, error) {
	target, err := s.StreamURL(coachID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, s.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", target, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	ws := &wsStream{
		conn:      conn,
		snapshots: make(chan domain.ReviewSetSnapshot, 1),
		exited:    make(chan struct{}),
	}
	go ws.read()
	return ws, nil
}

type wsStream struct {
	conn      *websocket.Conn
	snapshots chan domain.ReviewSetSnapshot
	exited    chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func (w *wsStream) Snapshots() <-chan domain.ReviewSetSnapshot { return w.snapshots }

func (w *wsStream) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *wsStream) read() {
	defer close(w.exited)
	defer close(w.snapshots)

	for {
		var snap domain.ReviewSetSnapshot
		if err := w.conn.ReadJSON(&snap); err != nil {
			w.mu.Lock()
			if !w.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.err = fmt.Errorf("%w: %w", ErrStream, err)
			}
			w.mu.Unlock()
			return
		}

		select {
		case <-w.snapshots:
		default:
		}
		w.snapshots <- snap
	}
}

func (w *wsStream) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = w.conn.Close()
	<-w.exited
}
