// Package toolserver exposes the storefront REST API as MCP tools.
//
// Each tool wraps one [bigcommerce.Client] call. Arguments arrive as
// loosely typed JSON and are coerced with spf13/cast, so "25" and 25.0
// are both accepted where an integer is expected. The tool result is the
// wrapper's normalized JSON object; a storefront failure is reported in
// that object ("success": false), while bad arguments produce an MCP
// tool error.
package toolserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/nugget/storefront-mcp/internal/bigcommerce"
	"github.com/nugget/storefront-mcp/internal/buildinfo"
)

// ServerName is the name reported in the initialize handshake.
const ServerName = "BigCommerce MCP Server"

// Store is the storefront API the tools call.
type Store interface {
	Products(ctx context.Context, p bigcommerce.ListParams) bigcommerce.Result
	ProductMetafields(ctx context.Context, productID int, p bigcommerce.ListParams) bigcommerce.Result
	ProductMetafield(ctx context.Context, productID, metafieldID int) bigcommerce.Result
	Orders(ctx context.Context, p bigcommerce.ListParams, statusID int) bigcommerce.Result
	OrderMetafields(ctx context.Context, orderID int, p bigcommerce.ListParams) bigcommerce.Result
	OrderMetafield(ctx context.Context, orderID, metafieldID int) bigcommerce.Result
	Customers(ctx context.Context, p bigcommerce.ListParams) bigcommerce.Result
	CustomerMetafields(ctx context.Context, customerID int, p bigcommerce.ListParams) bigcommerce.Result
	CustomerMetafield(ctx context.Context, customerID, metafieldID int) bigcommerce.Result
	Cart(ctx context.Context, cartID string) bigcommerce.Result
	CreateCart(ctx context.Context, req bigcommerce.CartRequest) bigcommerce.Result
	AddCartItems(ctx context.Context, cartID string, items []bigcommerce.LineItem) bigcommerce.Result
}

var _ Store = (*bigcommerce.Client)(nil)

// New returns an MCP server with every storefront tool registered.
func New(store Store, logger *slog.Logger) *mcpserver.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "toolserver")

	srv := mcpserver.NewMCPServer(ServerName, buildinfo.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	for _, t := range catalog(store) {
		srv.AddTool(t.def, handler(t, logger))
	}
	return srv
}

// Serve speaks MCP on in and out until in is closed or ctx ends.
func Serve(ctx context.Context, srv *mcpserver.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// handler adapts a tool to the mcp-go handler signature: argument
// errors become tool errors and results are rendered as JSON text.
func handler(t tool, logger *slog.Logger) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		start := time.Now()
		res, err := t.run(ctx, req.GetArguments())
		if err != nil {
			logger.Warn("tool rejected arguments", "tool", t.def.Name, "error", err)
			return mcpgo.NewToolResultError(err.Error()), nil
		}

		logger.Info("tool called",
			"tool", t.def.Name,
			"success", res.Success(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		body, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		return mcpgo.NewToolResultText(string(body)), nil
	}
}
