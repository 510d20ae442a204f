package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/companion/internal/turn"
)

type StartArgs struct {
	Name       string            `json:"name,omitempty" jsonschema:"Name of the person being talked with"`
	Voice      string            `json:"voice,omitempty" jsonschema:"Voice for replies: female or male"`
	Prompt     string            `json:"prompt,omitempty" jsonschema:"Persona prompt replacing the configured one"`
	Attributes map[string]string `json:"attributes,omitempty" jsonschema:"Facts about the person included in the prompt"`
}

type StartResult struct {
	SessionID string `json:"session_id"`
}

type EndArgs struct{}

type EndResult struct {
	Ended bool `json:"ended"`
}

type StatusArgs struct{}

type StatusResult struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Profile   string `json:"profile,omitempty"`
	Speaking  bool   `json:"speaking"`
	Turns     int    `json:"turns"`
	BargeIns  int    `json:"barge_ins"`
	Fallbacks int    `json:"fallbacks"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) handleStart(ctx context.Context, req *sdk.CallToolRequest, args StartArgs) (*sdk.CallToolResult, StartResult, error) {
	var profile *turn.Profile
	if args.Name != "" || args.Voice != "" || args.Prompt != "" || len(args.Attributes) > 0 {
		voice, err := turn.ParseVoice(args.Voice)
		if err != nil {
			return nil, StartResult{}, err
		}
		profile = &turn.Profile{Name: args.Name, Voice: voice, Prompt: args.Prompt, Attributes: args.Attributes}
	}

	id, err := s.ctrl.StartSession(ctx, profile)
	if err != nil {
		s.logger.Warn().Err(err).Msg("start_conversation failed")
		return nil, StartResult{}, fmt.Errorf("could not start conversation: %w", err)
	}

	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: "Conversation started: " + id}},
	}, StartResult{SessionID: id}, nil
}

func (s *Server) handleEnd(ctx context.Context, req *sdk.CallToolRequest, _ EndArgs) (*sdk.CallToolResult, EndResult, error) {
	wasActive := s.ctrl.Status().State != turn.Idle
	s.ctrl.EndSession()

	text := "No conversation was running"
	if wasActive {
		text = "Conversation ended"
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
	}, EndResult{Ended: wasActive}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, _ StatusArgs) (*sdk.CallToolResult, StatusResult, error) {
	st := s.ctrl.Status()
	out := StatusResult{
		State:     st.State.String(),
		SessionID: st.SessionID,
		Profile:   st.Profile,
		Speaking:  st.Speaking,
		Turns:     st.Turns,
		BargeIns:  st.BargeIns,
		Fallbacks: st.Fallbacks,
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}

	text := fmt.Sprintf("State: %s, turns: %d", out.State, out.Turns)
	if out.LastError != "" {
		text += ", last error: " + out.LastError
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
	}, out, nil
}
