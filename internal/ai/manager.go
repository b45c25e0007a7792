package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

// Manager wraps the writing assistant behind document-level operations. The
// writer continues a draft as a token stream; the polisher rewrites a
// passage in one shot so the result can be shown as a reviewable change set.
type Manager struct {
	writer IGenerator
	cfg    ManagerConfig
}

func NewManager(writer IGenerator, cfg ManagerConfig) *Manager {
	return &Manager{writer: writer, cfg: cfg}
}

// WriteStream continues the draft, emitting text deltas through fn. The
// instruction is optional; without one the model just keeps writing.
func (m *Manager) WriteStream(ctx context.Context, content, instruction string, fn StreamFunc) error {
	if m.writer == nil {
		return fmt.Errorf("writer not configured")
	}
	guidance := strings.TrimSpace(instruction)
	if guidance == "" {
		guidance = "Continue the draft naturally from where it ends."
	}
	prompt := fmt.Sprintf(`You are a writing assistant collaborating on a draft.
%s
- Match the tone, language and markdown structure of the draft.
- Output ONLY the new text to append. Do not repeat the draft.

DRAFT:
%s`, guidance, m.truncate(content))
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	return m.writer.GenerateStream(ctx, prompt, fn)
}

// Polish rewrites the draft and returns the full replacement text. Callers
// render the result as an overlaid change set rather than applying it
// directly.
func (m *Manager) Polish(ctx context.Context, content string) (string, error) {
	if m.writer == nil {
		return "", fmt.Errorf("writer not configured")
	}
	prompt := fmt.Sprintf(`You are a professional editor.
Polish the following markdown to be clearer without changing the meaning.
- Use the same language as the content.
- Keep all markdown structure and formatting.
- Output ONLY the polished markdown.

CONTENT:
%s`, m.truncate(content))
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := m.writer.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func (m *Manager) truncate(text string) string {
	max := m.cfg.MaxInputChars
	if max <= 0 || len(text) <= max {
		return text
	}
	// Keep the tail; the end of the draft matters most for continuation.
	cut := text[len(text)-max:]
	if idx := strings.IndexAny(cut, " \n"); idx > 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}
