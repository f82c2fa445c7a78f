// Package mcptools exposes the company registries as read-only MCP tools.
package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/registry"
)

// version is set by the linker at build time.
var version = "dev"

// NewRegistryServer creates an MCP server with the registry tools registered.
func NewRegistryServer(store registry.Store, companies []counterparty.Company) *mcp.Server {
	svc := NewRegistryService(store, companies)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "edoagree-registry",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_counterparty",
		Description: "Look a counterparty up by tax ID in a company registry. Reports whether an agreement was already offered and its status.",
	}, svc.FindCounterparty)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_counterparties",
		Description: "List registry records of a company, optionally filtered by status label substring and by status-change date range (dd.mm.yyyy).",
	}, svc.ListCounterparties)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_tax_id",
		Description: "Clean a spreadsheet tax ID and report its legal form: 10 digits is an organization, 12 a sole proprietor, anything else is invalid.",
	}, svc.ClassifyTaxID)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "short_name",
		Description: "Render a full name (surname first) as initials followed by the surname, the way agreements sign it.",
	}, svc.ShortName)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "registry_status",
		Description: "Count registry records per status label and report the latest status change, per company.",
	}, svc.RegistryStatus)

	return server
}

// RunStdio runs the server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP tools over streamable HTTP on addr.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			logger.Warn("mcp server shutdown", zap.Error(err))
		}
	}()

	logger.Info("mcp server listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
