package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
)

// Level is a hierarchical summary level.
type Level string

// Summary levels with their most-recent-turns windows.
const (
	L1 Level = "L1" // last 2 turns
	L2 Level = "L2" // last 5 turns
	L3 Level = "L3" // last 10 turns
)

// Levels lists all levels, smallest window first.
var Levels = []Level{L1, L2, L3}

// Cap returns the most-recent-turns window of a level.
func (l Level) Cap() int {
	switch l {
	case L1:
		return 2
	case L2:
		return 5
	case L3:
		return 10
	default:
		return 5
	}
}

// description names the level's role in the summary prompt.
func (l Level) description() string {
	switch l {
	case L1:
		return "单轮对话摘要"
	case L2:
		return "多轮对话摘要"
	case L3:
		return "主题聚类摘要"
	default:
		return "对话摘要"
	}
}

// Summary length bounds. The prompt asks for summaryTargetChars; output
// beyond summaryMaxChars is truncated defensively.
const (
	summaryTargetChars = 150
	summaryMaxChars    = 500
)

// summaryTemperature keeps summaries factual rather than creative.
const summaryTemperature = 0.3

// Summarizer generates layered and flat conversation summaries via the
// LLM.
type Summarizer struct {
	llm LLM
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(llm LLM) *Summarizer {
	return &Summarizer{llm: llm}
}

// GenerateLayer summarizes the most recent Cap(level) turns. A non-empty
// priorSummary (from the next larger level) is integrated rather than
// restated. Returns "" on any failure.
func (s *Summarizer) GenerateLayer(ctx context.Context, level Level, turns []Turn, priorSummary string) string {
	if len(turns) == 0 {
		return ""
	}
	if window := level.Cap(); len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	var prior string
	if priorSummary != "" {
		prior = fmt.Sprintf("\n\n上一层摘要：\n%s\n", priorSummary)
	}
	prompt := fmt.Sprintf(`请为以下对话生成%s（%s层）。
要求：
1. 简洁清晰，不超过%d字
2. 保留关键信息和讨论要点
3. 如果有上一层摘要，基于其基础上进行补充和总结
%s
最近对话内容：
%s

请生成%s层摘要：`, level.description(), level, summaryTargetChars, prior, renderTurns(turns), level)

	return s.generate(ctx, prompt)
}

// Flat summarizes turns without a level hierarchy (≤100 chars, legacy
// callers). Returns "" on any failure.
func (s *Summarizer) Flat(ctx context.Context, turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	prompt := fmt.Sprintf(`请将以下对话内容总结成简洁的摘要（不超过100字）。
注意：
1. 保留关键信息和主要讨论点
2. 使用简洁的语言
3. 突出重要的事实和结论

对话内容：
%s

请生成摘要：`, renderTurns(turns))

	return s.generate(ctx, prompt)
}

func (s *Summarizer) generate(ctx context.Context, prompt string) string {
	out, err := s.llm.Generate(ctx, []qwen.Message{
		{Role: qwen.RoleUser, Content: prompt},
	}, &qwen.Params{Temperature: summaryTemperature})
	if err != nil {
		return ""
	}
	out = strings.TrimSpace(out)
	if runes := []rune(out); len(runes) > summaryMaxChars {
		out = string(runes[:summaryMaxChars])
	}
	return out
}

// renderTurns formats turns as alternating 用户/助手 lines.
func renderTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Message == "" && t.Response == "" {
			continue
		}
		fmt.Fprintf(&b, "用户: %s\n助手: %s\n", t.Message, t.Response)
	}
	return strings.TrimRight(b.String(), "\n")
}
