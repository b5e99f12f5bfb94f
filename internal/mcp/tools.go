package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/ipc"
)

func (s *Server) handleGetStatus(_ context.Context, _ *mcpsdk.CallToolRequest, args GetStatusInput) (*mcpsdk.CallToolResult, GetStatusOutput, error) {
	st, err := s.client.GetStatus()
	if err != nil {
		return nil, GetStatusOutput{}, err
	}

	out := GetStatusOutput{
		Compositor:    st.Compositor,
		Backend:       st.Backend,
		Fallback:      st.Fallback,
		OnBattery:     st.OnBattery,
		UptimeSeconds: st.UptimeSeconds,
		Sessions:      st.Sessions,
		Outputs:       make([]OutputInfo, 0, len(st.Outputs)),
	}
	found := false
	for _, o := range st.Outputs {
		if args.Output != "" && o.Name != args.Output {
			continue
		}
		found = true
		out.Outputs = append(out.Outputs, outputInfo(o))
	}
	if args.Output != "" && !found {
		return nil, GetStatusOutput{}, fmt.Errorf("unknown output %q", args.Output)
	}
	sort.Slice(out.Outputs, func(i, j int) bool {
		return out.Outputs[i].Name < out.Outputs[j].Name
	})

	s.logger.Debug("mcp get_status", "outputs", len(out.Outputs))
	return nil, out, nil
}

func outputInfo(o ipc.OutputStatus) OutputInfo {
	info := OutputInfo{
		Name:      o.Name,
		State:     "inactive",
		Active:    o.Active,
		Match:     o.Match,
		Source:    o.Source,
		Layout:    string(o.Layout),
		Width:     o.Width,
		Height:    o.Height,
		Scale:     o.Scale,
		RefreshHz: o.RefreshHz,
		Reason:    o.Reason,
	}
	if sc := o.Scheduler; sc != nil {
		info.State = sc.State.String()
		info.TargetFPS = sc.TargetFPS
		info.Presented = sc.Presented
		info.Discarded = sc.Discarded
		info.Paused = sc.Paused
	}
	return info
}

func (s *Server) handlePause(_ context.Context, _ *mcpsdk.CallToolRequest, args OutputTarget) (*mcpsdk.CallToolResult, ActionOutput, error) {
	if err := s.client.Pause(args.Output); err != nil {
		return nil, ActionOutput{}, err
	}
	return nil, done("paused " + describeTarget(args.Output)), nil
}

func (s *Server) handleResume(_ context.Context, _ *mcpsdk.CallToolRequest, args OutputTarget) (*mcpsdk.CallToolResult, ActionOutput, error) {
	if err := s.client.Resume(args.Output); err != nil {
		return nil, ActionOutput{}, err
	}
	return nil, done("resumed " + describeTarget(args.Output)), nil
}

func (s *Server) handleSetLayout(_ context.Context, _ *mcpsdk.CallToolRequest, args SetLayoutInput) (*mcpsdk.CallToolResult, ActionOutput, error) {
	layout := config.Layout(strings.ToLower(strings.TrimSpace(args.Layout)))
	if err := config.ValidateLayout(layout); err != nil {
		return nil, ActionOutput{}, err
	}
	if err := s.client.SetLayout(args.Output, layout); err != nil {
		return nil, ActionOutput{}, err
	}
	return nil, done(fmt.Sprintf("layout %s on %s", layout, describeTarget(args.Output))), nil
}

func (s *Server) handleSwitchSource(_ context.Context, _ *mcpsdk.CallToolRequest, args SwitchSourceInput) (*mcpsdk.CallToolResult, ActionOutput, error) {
	if strings.TrimSpace(args.Path) == "" {
		return nil, ActionOutput{}, fmt.Errorf("path is required")
	}
	if args.FPS < 0 {
		return nil, ActionOutput{}, fmt.Errorf("fps must be >= 0")
	}
	src := config.Source{
		Type: config.SourceType(strings.ToLower(strings.TrimSpace(args.Type))),
		Path: args.Path,
		FPS:  args.FPS,
	}
	if err := s.client.SwitchSource(args.Output, src); err != nil {
		return nil, ActionOutput{}, err
	}
	s.logger.Info("mcp switch_source", "output", args.Output, "path", args.Path)
	return nil, done(fmt.Sprintf("playing %s on %s", args.Path, describeTarget(args.Output))), nil
}

func (s *Server) handleReload(_ context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, ActionOutput, error) {
	if err := s.client.Reload(); err != nil {
		return nil, ActionOutput{}, err
	}
	return nil, done("config reloaded"), nil
}

func done(msg string) ActionOutput {
	return ActionOutput{OK: true, Message: msg}
}

func describeTarget(output string) string {
	if output == "" {
		return "all outputs"
	}
	return output
}
