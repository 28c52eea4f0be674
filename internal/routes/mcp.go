package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/congo-pay/agentpay/internal/tools"
)

// RegisterMCPRoutes mounts the streamable MCP endpoint behind authMW.
func RegisterMCPRoutes(app *fiber.App, server *mcp.Server, authMW fiber.Handler) {
	app.All("/mcp", authMW, adaptor.HTTPHandler(tools.HTTPHandler(server)))
}
