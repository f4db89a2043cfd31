// ABOUTME: MCP server subcommand
// ABOUTME: Exposes reconciliation and the address book as MCP tools over stdio
package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/handlers"
)

// NewMCPServer registers every tool and resource on a new server.
func NewMCPServer(rt *Runtime, version string) *mcp.Server {
	reconcileHandlers := handlers.NewReconcileHandlers(rt.Coordinator, rt.DB)
	contactHandlers := handlers.NewContactHandlers(rt.DB)
	resourceHandlers := handlers.NewResourceHandlers(rt.Coordinator, rt.DB)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "rolodex",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile_contacts",
		Description: "Reconcile local contacts with the remote store: skip known contacts and platform users, create the rest and record a session",
	}, reconcileHandlers.ReconcileContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_contacts",
		Description: "Create local contacts that are not yet in the remote store",
	}, reconcileHandlers.CreateContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_contacts",
		Description: "Delete remote contacts by id; already-deleted contacts count as success",
	}, reconcileHandlers.DeleteContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_all_contacts",
		Description: "Delete every remote contact owned by the account",
	}, reconcileHandlers.DeleteAllContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Contacts added, points, weekly activity and how many contacts to add next",
	}, reconcileHandlers.GetStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_contact",
		Description: "Add a contact to the local address book",
	}, contactHandlers.AddContact)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_contacts",
		Description: "Search the local address book by name, phone or email",
	}, contactHandlers.FindContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_contact",
		Description: "Remove a contact from the local address book",
	}, contactHandlers.RemoveContact)

	for _, r := range handlers.Resources {
		server.AddResource(r, resourceHandlers.ReadResource)
	}

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(ctx context.Context, rt *Runtime, version string) error {
	rt.Logger.Info("starting MCP server", "account", rt.Config.Account)
	return NewMCPServer(rt, version).Run(ctx, &mcp.StdioTransport{})
}
