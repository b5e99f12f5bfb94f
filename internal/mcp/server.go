package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/ipc"
)

const (
	ServerName    = "vidwall"
	ServerVersion = "0.1.0"
)

// DaemonClient is the part of the control socket client the tools use.
// *ipc.Client satisfies it.
type DaemonClient interface {
	GetStatus() (*ipc.StatusData, error)
	Pause(output string) error
	Resume(output string) error
	Reload() error
	SetLayout(output string, layout config.Layout) error
	SwitchSource(output string, src config.Source) error
}

var _ DaemonClient = (*ipc.Client)(nil)

// Server is the MCP server for controlling a running vidwall daemon.
type Server struct {
	mcpServer *mcpsdk.Server
	client    DaemonClient
	logger    *slog.Logger
}

// NewServer creates an MCP server that forwards tool calls to client.
func NewServer(client DaemonClient, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{client: client, logger: logger}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio until the peer disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_status",
		Description: "Report the vidwall daemon state: render backend, power source and, per output, the resolved source, layout, scheduler state and frame counters.",
	}, s.handleGetStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pause_output",
		Description: "Pause wallpaper playback on one output, or on every output when no output is given. The last frame stays on screen.",
	}, s.handlePause)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "resume_output",
		Description: "Resume wallpaper playback paused with pause_output.",
	}, s.handleResume)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_layout",
		Description: "Change how the wallpaper is placed on an output: fill (crop to cover), fit (letterbox), stretch or center. The override lasts until the daemon restarts.",
	}, s.handleSetLayout)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "switch_source",
		Description: "Play a different video, image or image sequence on an output, or on every output when no output is given. Outputs showing the same source share one decoder.",
	}, s.handleSwitchSource)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reload_config",
		Description: "Reload the daemon config file. An invalid file is rejected and the running configuration is kept.",
	}, s.handleReload)
}
