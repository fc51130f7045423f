// Package intent classifies a chat message into the pipeline intent
// that selects tools and prompt specialization.
//
// Classification runs a fixed priority chain: attachments win outright,
// a URL in the message text triggers a synchronous page fetch, and only
// then is the LLM asked to arbitrate between search, code, and normal.
// Every failure path degrades to a usable intent; Classify never
// returns an error.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/LiuHarry1/general-chatbot/pkg/memory"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
	"github.com/LiuHarry1/general-chatbot/pkg/webfetch"
	"github.com/LiuHarry1/general-chatbot/pkg/websearch"
	"github.com/kaptinlin/jsonrepair"
)

// Type is a classified intent.
type Type string

const (
	File   Type = "file"   // attached file analysis
	Web    Type = "web"    // URL content analysis
	Search Type = "search" // web search for fresh information
	Code   Type = "code"   // Python code execution
	Normal Type = "normal" // plain conversation
)

// Attachment is an uploaded file or a pre-fetched URL handed in with
// the message.
type Attachment struct {
	Type     string `json:"type"` // "file" or "url"
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Result is the classification outcome.
type Result struct {
	Intent        Type
	Content       string // tool output to embed in the prompt, if any
	SearchResults *websearch.Results
	Confidence    float64
	Reasoning     string
}

// PageFetcher fetches a URL found in the message text.
// *webfetch.Client satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*webfetch.Page, error)
}

// Searcher runs a web search for the search intent.
// *websearch.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) (*websearch.Results, error)
}

// LLM is the generation client used for intent arbitration.
type LLM interface {
	Generate(ctx context.Context, messages []qwen.Message, params *qwen.Params) (string, error)
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Classifier decides the intent of each incoming message.
type Classifier struct {
	llm      LLM
	fetcher  PageFetcher
	searcher Searcher
	log      *slog.Logger
}

// NewClassifier creates a classifier. fetcher and searcher may be nil;
// the corresponding intents then degrade to normal.
func NewClassifier(llm LLM, fetcher PageFetcher, searcher Searcher, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{llm: llm, fetcher: fetcher, searcher: searcher, log: log}
}

// Classify runs the priority chain for one message. recentTurns give
// the LLM arbitration conversational context; only the last three turn
// pairs are used.
func (c *Classifier) Classify(ctx context.Context, message string, attachments []Attachment, recentTurns []memory.Turn) *Result {
	var urlAtts, fileAtts []Attachment
	for _, a := range attachments {
		if a.Type == "url" {
			urlAtts = append(urlAtts, a)
		} else {
			fileAtts = append(fileAtts, a)
		}
	}

	if len(urlAtts) > 0 {
		var b strings.Builder
		for _, a := range urlAtts {
			if a.Content != "" {
				b.WriteString("\n\n")
				b.WriteString(a.Content)
			}
		}
		return &Result{Intent: Web, Content: b.String(), Confidence: 1.0, Reasoning: "检测到URL附件"}
	}

	if len(fileAtts) > 0 {
		var b strings.Builder
		for _, a := range fileAtts {
			if a.Content != "" {
				fmt.Fprintf(&b, "\n\n文件 %s:\n%s", a.Filename, a.Content)
			}
		}
		return &Result{Intent: File, Content: b.String(), Confidence: 1.0, Reasoning: "检测到文件附件"}
	}

	if url := urlPattern.FindString(message); url != "" {
		return c.classifyURL(ctx, message, url)
	}

	return c.arbitrate(ctx, message, recentTurns)
}

// classifyURL fetches the first URL in the message. Anti-scrape pages
// stay on the web intent with an error-prefixed content block so the
// answer can explain the failure; other failures demote to normal.
func (c *Classifier) classifyURL(ctx context.Context, message, url string) *Result {
	if c.fetcher == nil {
		return &Result{
			Intent:     Normal,
			Content:    message,
			Confidence: 0.7,
			Reasoning:  "URL分析不可用，使用普通对话",
		}
	}

	page, err := c.fetcher.Fetch(ctx, url)
	if err == nil {
		return &Result{
			Intent:     Web,
			Content:    fmt.Sprintf("标题：%s\n\n内容：%s", page.Title, page.Content),
			Confidence: 1.0,
			Reasoning:  "检测到URL: " + url,
		}
	}

	c.log.Warn("url fetch failed", "url", url, "err", err)
	if isAntiScrape(err) {
		return &Result{
			Intent:     Web,
			Content:    fmt.Sprintf("错误：无法访问网页内容，可能遇到反爬虫保护。请尝试其他URL或手动复制内容。\n\n原始问题：%s", message),
			Confidence: 0.8,
			Reasoning:  "URL分析遇到反爬虫保护: " + url,
		}
	}
	return &Result{
		Intent:     Normal,
		Content:    fmt.Sprintf("无法访问网页 %s，错误：%v\n\n%s", url, err, message),
		Confidence: 0.7,
		Reasoning:  "URL分析失败: " + err.Error(),
	}
}

func isAntiScrape(err error) bool {
	if err == nil {
		return false
	}
	if e := err.Error(); strings.Contains(e, "反爬虫") || strings.Contains(e, "安全验证") {
		return true
	}
	return errors.Is(err, webfetch.ErrAntiScrape)
}

// arbitrate asks the LLM to pick between search, code, and normal, then
// runs the search synchronously when chosen.
func (c *Classifier) arbitrate(ctx context.Context, message string, recentTurns []memory.Turn) *Result {
	choice, reasoning, confidence := c.analyzeWithLLM(ctx, message, recentTurns)

	switch choice {
	case "search":
		if c.searcher == nil {
			return &Result{Intent: Normal, Content: message, Confidence: 1.0, Reasoning: "搜索不可用，使用普通对话"}
		}
		results, err := c.searcher.Search(ctx, message)
		if err != nil {
			c.log.Warn("search failed, demoting to normal", "err", err)
			return &Result{
				Intent:     Normal,
				Content:    message,
				Confidence: 1.0,
				Reasoning:  "搜索失败，使用普通对话: " + err.Error(),
			}
		}
		return &Result{
			Intent:        Search,
			Content:       message,
			SearchResults: results,
			Confidence:    confidence,
			Reasoning:     reasoning,
		}
	case "code":
		return &Result{Intent: Code, Content: message, Confidence: confidence, Reasoning: reasoning}
	default:
		return &Result{Intent: Normal, Content: message, Confidence: confidence, Reasoning: reasoning}
	}
}

type arbitration struct {
	Intent     string  `json:"intent"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// analyzeWithLLM returns one of "search", "code", "normal".
func (c *Classifier) analyzeWithLLM(ctx context.Context, message string, recentTurns []memory.Turn) (string, string, float64) {
	var history strings.Builder
	if len(recentTurns) > 0 {
		if len(recentTurns) > 3 {
			recentTurns = recentTurns[len(recentTurns)-3:]
		}
		history.WriteString("\n最近的对话历史：\n")
		for _, t := range recentTurns {
			fmt.Fprintf(&history, "用户: %s\n助手: %s\n\n", t.Message, t.Response)
		}
	}

	prompt := fmt.Sprintf(`你是一个智能意图识别助手。请分析用户的消息和对话历史，判断用户的意图。
%s
当前用户消息: %s

请从以下意图中选择最合适的一个：
1. search - 用户需要搜索网络上的最新信息、实时数据、新闻、特定知识等
2. code - 用户需要执行Python代码进行数据分析、计算、画图、可视化、绘图等
3. normal - 普通对话，不需要特殊工具

分析要点：
- 天气、股票、汇率、新闻等实时信息查询应归类为 search
- 画图、绘图、可视化、生成图表、绘制函数图等需求应归类为 code
- 学习编程、询问概念、寻求代码解释、教学指导等属于 normal

请以JSON格式回答：
{
    "intent": "search|code|normal",
    "reasoning": "详细说明为什么选择这个意图",
    "confidence": 0.0-1.0
}`, history.String(), message)

	out, err := c.llm.Generate(ctx, []qwen.Message{
		{Role: qwen.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		c.log.Warn("intent arbitration failed", "err", err)
		return "normal", "LLM分析失败，使用普通对话: " + err.Error(), 0.5
	}

	if raw := firstJSONObject(out); raw != "" {
		if fixed, err := jsonrepair.JSONRepair(raw); err == nil {
			raw = fixed
		}
		var a arbitration
		if json.Unmarshal([]byte(raw), &a) == nil && a.Intent != "" {
			switch a.Intent {
			case "search", "code", "normal":
				if a.Confidence <= 0 {
					a.Confidence = 0.8
				}
				return a.Intent, a.Reasoning, a.Confidence
			}
		}
	}

	// Unparseable reply; fall back to token matching.
	low := strings.ToLower(out)
	switch {
	case strings.Contains(low, "search"):
		return "search", "LLM判断需要搜索", 0.7
	case strings.Contains(low, "code"):
		return "code", "LLM判断需要代码执行", 0.7
	default:
		return "normal", "LLM判断普通对话", 0.7
	}
}

// firstJSONObject returns the first balanced {...} substring of s.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
