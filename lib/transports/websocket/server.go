// Package websocket serves the relay over NIP-01 websockets with fiber
package websocket

import (
	"context"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/relay"
)

const nostrJSON = "application/nostr+json"

func BuildServer(r *relay.Relay, info NIP11RelayInfo, logger *logging.Logger) *fiber.App {
	if logger == nil {
		logger = logging.GetLogger()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware for handling relay information requests
	app.Use(handleRelayInfoRequests(info))

	app.Get("/", websocket.New(func(c *websocket.Conn) {
		serveConnection(r, c, logger)
	}))

	return app
}

// StartServer blocks serving app on address
func StartServer(app *fiber.App, address string) error {
	if err := app.Listen(address); err != nil {
		return fmt.Errorf("failed to start websocket server on %s: %w", address, err)
	}
	return nil
}

func handleRelayInfoRequests(info NIP11RelayInfo) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet && c.Get(fiber.HeaderAccept) == nostrJSON {
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
			return c.JSON(info, nostrJSON)
		}
		return c.Next()
	}
}

// serveConnection reads messages until the socket fails. Messages from one
// connection are handled in arrival order.
func serveConnection(r *relay.Relay, ws *websocket.Conn, logger *logging.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := newConnection(ws)

	defer func() {
		conn.markClosed()
		cancel()
		r.HandleDisconnect(conn)
	}()

	r.HandleConnection(conn)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			logger.Debugf("Websocket read ended: %v", err)
			return
		}

		r.HandleMessage(ctx, conn, nostr.ParseMessage(message))
	}
}
