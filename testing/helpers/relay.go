package helpers

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/relay"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/memory"
	"github.com/HORNET-Storage/hornets-relay-core/lib/transports/websocket"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// TestRelay is a relay served over a real websocket on localhost, backed
// by the memory store
type TestRelay struct {
	Relay *relay.Relay
	Store *memory.Store
	App   *fiber.App
	Port  int
	URL   string

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// TestRelayConfig holds configuration for a test relay
type TestRelayConfig struct {
	Port                      int
	Domain                    string
	Limits                    events.Limits
	MaxSubscriptionsPerClient int
}

// DefaultTestConfig returns a default test configuration
func DefaultTestConfig() TestRelayConfig {
	return TestRelayConfig{
		MaxSubscriptionsPerClient: 20,
	}
}

// NewTestRelay starts a relay and waits until it accepts connections
func NewTestRelay(cfg TestRelayConfig) (*TestRelay, error) {
	port := cfg.Port
	if port == 0 {
		var err error
		port, err = findAvailablePort()
		if err != nil {
			return nil, fmt.Errorf("failed to find available port: %w", err)
		}
	}

	logger := DiscardLogger()
	store := memory.New()
	r := relay.New(store, relay.Options{
		Domain:                    cfg.Domain,
		Logger:                    logger,
		Limits:                    cfg.Limits,
		MaxSubscriptionsPerClient: cfg.MaxSubscriptionsPerClient,
	})

	info := websocket.NewRelayInfo(types.RelayConfig{
		Name:          "test relay",
		SupportedNIPs: []int{1, 11, 42},
	}, types.LimitsConfig{
		MaxSubscriptionsPerClient: cfg.MaxSubscriptionsPerClient,
		MinPowDifficulty:          cfg.Limits.MinPowDifficulty,
	}, r)

	testRelay := &TestRelay{
		Relay: r,
		Store: store,
		App:   websocket.BuildServer(r, info, logger),
		Port:  port,
		URL:   fmt.Sprintf("ws://127.0.0.1:%d", port),
	}

	if err := testRelay.start(); err != nil {
		_ = testRelay.Stop()
		_ = r.Close()
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	return testRelay, nil
}

func (r *TestRelay) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = websocket.StartServer(r.App, fmt.Sprintf("127.0.0.1:%d", r.Port))
	}()
	r.running = true

	return waitForServer(r.URL, 5*time.Second)
}

// Stop shuts the server down and destroys the store
func (r *TestRelay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	shutdownErr := r.App.ShutdownWithTimeout(5 * time.Second)
	r.wg.Wait()

	if err := r.Relay.Close(); err != nil {
		return err
	}
	return shutdownErr
}

// Connect creates a new client connection to the test relay
func (r *TestRelay) Connect(ctx context.Context) (*nostr.Relay, error) {
	conn, err := nostr.RelayConnect(ctx, r.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test relay: %w", err)
	}
	return conn, nil
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for server to start")
		case <-ticker.C:
			conn, err := nostr.RelayConnect(ctx, url)
			if err == nil {
				conn.Close()
				return nil
			}
		}
	}
}
