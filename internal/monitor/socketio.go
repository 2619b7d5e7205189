package monitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the socket.io event name used when none is configured.
const DefaultEvent = "training_progress"

// SocketIOConfig configures a SocketIO reporter.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	Event              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// SocketIO emits every event to a socket.io server.
type SocketIO struct {
	mu    sync.Mutex
	io    *socket.Socket
	event string
}

// DialSocketIO connects to the server and waits for the connection to be
// established, the context to end, or the timeout to pass.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("reporter", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("socket.io URL must be absolute, got %q", cfg.URL)
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Progress monitor connected.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	logger.Debug("Connecting progress monitor...")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIO{io: io, event: cfg.Event}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(cfg.Timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", cfg.Timeout)
	}
}

func (s *SocketIO) Report(ctx context.Context, ev Event) {
	ev = Stamp(ev)
	payload := map[string]any{
		"run_id":      ev.RunID,
		"object_id":   ev.ObjectID,
		"pipeline":    ev.Pipeline,
		"kind":        string(ev.Kind),
		"observation": ev.Observation,
		"index":       ev.Index,
		"total":       ev.Total,
		"model_id":    ev.ModelID,
		"error":       ev.Err,
		"time":        ev.Time.Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.io.Emit(s.event, payload)
}

func (s *SocketIO) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.io.Disconnect()
	return nil
}
