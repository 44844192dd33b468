package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/obslog"
)

// cliEnvelope is the JSON document the claude CLI prints with
// --output-format json.
type cliEnvelope struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// ClaudeCLI shells out to the claude binary for each turn. Backend failures
// (non-zero exit, missing binary, malformed output) come back as an
// empty-text Response so the game can fall back to a random legal move
// instead of aborting.
type ClaudeCLI struct {
	bin   string
	model string
}

func NewClaudeCLI(bin, model string) *ClaudeCLI {
	if strings.TrimSpace(bin) == "" {
		bin = "claude"
	}
	if strings.TrimSpace(model) == "" {
		model = "haiku"
	}
	return &ClaudeCLI{bin: bin, model: model}
}

func (c *ClaudeCLI) Ask(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}

	args := []string{"-p", req.Prompt, "--output-format", "json", "--model", c.model}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	} else if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	obslog.L().Debug("invoking claude cli",
		zap.String("model", c.model),
		zap.Bool("resume", req.SessionID != ""))

	err := cmd.Run()
	if ctx.Err() != nil {
		// Cancellation and deadline must surface so a suspended game stops
		// cleanly instead of recording a fallback move.
		return Response{SessionID: req.SessionID}, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			obslog.L().Error("claude binary not found", zap.String("bin", c.bin))
			return Response{}, ErrBinaryNotFound
		}
		obslog.L().Error("claude cli failed",
			zap.Error(err),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return Response{SessionID: req.SessionID}, nil
	}

	var env cliEnvelope
	if jerrr := json.Unmarshal(stdout.Bytes(), &env); jerrr != nil {
		// Some CLI versions print plain text on partial failures; keep it so
		// the parser still gets a chance.
		obslog.L().Warn("claude cli output is not json, using raw text")
		return Response{Text: stdout.String(), SessionID: req.SessionID}, nil
	}

	sid := env.SessionID
	if sid == "" {
		sid = req.SessionID
	}
	return Response{Text: env.Result, SessionID: sid}, nil
}
