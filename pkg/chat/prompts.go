package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/LiuHarry1/general-chatbot/pkg/intent"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
)

// maxEmbeddedRunes bounds tool output embedded into the system prompt.
const maxEmbeddedRunes = 8000

const basePrompt = "你是一个专业的AI助手，可以帮助用户进行对话、分析文档、搜索网络信息等任务。请用中文回答用户的问题，回答要准确、有用、友好。"

const filePrompt = `你是一个专业的文档分析助手。用户上传了文档，请基于文档内容回答用户的问题。
要求：
1. 用中文回答
2. 确保回答基于文档的实际内容
3. 如果文档中没有相关信息，请明确说明
4. 可以引用文档中的具体内容来支持你的回答
5. 保持回答的准确性和客观性`

const webPrompt = `你是一个专业的网页内容分析助手。用户提供了网页链接，请基于网页内容回答用户的问题。
要求：
1. 用中文回答
2. 确保回答基于网页的实际内容
3. 如果网页中没有相关信息，请明确说明
4. 可以引用网页中的具体内容来支持你的回答
5. 保持回答的准确性和客观性`

const searchPrompt = `你是一个专业的搜索助手。用户的问题需要搜索最新信息，请基于搜索结果回答用户的问题。
要求：
1. 用中文回答
2. 基于搜索结果提供准确信息
3. 引用相关的信息来源
4. 如果搜索结果不够充分，请说明
5. 保持回答的时效性和准确性`

const codeGenPrompt = `你是一个专业的Python编程助手。请根据用户的需求编写完整、可直接执行的Python代码。
要求：
1. 只输出一个完整的` + "```python" + `代码块，不要输出解释性文字
2. 代码必须可以独立运行，包含全部import语句
3. 如果需要绘图，使用matplotlib并调用plt.savefig保存图片，不要调用plt.show
4. 不要读取用户输入，所有数据在代码内构造`

// systemPrompt composes the system message for one request: the intent
// specialization, the tool output it references, and the memory block.
func systemPrompt(res *intent.Result, fullContext string) string {
	var b strings.Builder
	switch res.Intent {
	case intent.File:
		b.WriteString(filePrompt)
		if res.Content != "" {
			b.WriteString("\n\n当前分析的文档内容：\n")
			b.WriteString(truncateRunes(res.Content, maxEmbeddedRunes))
		}
	case intent.Web:
		b.WriteString(webPrompt)
		if res.Content != "" {
			b.WriteString("\n\n当前分析的网页内容：\n")
			b.WriteString(truncateRunes(res.Content, maxEmbeddedRunes))
		}
	case intent.Search:
		b.WriteString(searchPrompt)
		if formatted := res.SearchResults.Format(); formatted != "" {
			b.WriteString("\n\n搜索结果：\n")
			b.WriteString(truncateRunes(formatted, maxEmbeddedRunes))
		}
	default:
		b.WriteString(basePrompt)
	}

	if fullContext != "" {
		b.WriteString("\n\n以下是与用户相关的记忆信息，请结合这些信息回答：\n")
		b.WriteString(fullContext)
	}
	return b.String()
}

// answerPrompt builds the phase-2 system message for the code intent,
// embedding the sandbox output.
func answerPrompt(output string, imageCount int, fullContext string) string {
	var b strings.Builder
	b.WriteString("你是一个专业的数据分析助手。你刚刚为用户编写并执行了Python代码，请根据执行结果用自然语言回答用户的问题。\n")
	b.WriteString("要求：\n1. 用中文回答\n2. 不要展示代码本身，重点解释结果\n3. 如果生成了图表，请说明图表展示的内容")
	if output != "" {
		b.WriteString("\n\n代码执行输出：\n")
		b.WriteString(truncateRunes(output, maxEmbeddedRunes))
	}
	if imageCount > 0 {
		fmt.Fprintf(&b, "\n\n本次执行生成了 %d 张图片，会随回答一起展示给用户。", imageCount)
	}
	if fullContext != "" {
		b.WriteString("\n\n以下是与用户相关的记忆信息：\n")
		b.WriteString(fullContext)
	}
	return b.String()
}

// buildMessages pairs the system prompt with the user message.
func buildMessages(system, user string) []qwen.Message {
	return []qwen.Message{
		{Role: qwen.RoleSystem, Content: system},
		{Role: qwen.RoleUser, Content: user},
	}
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:python)?\\s*\n(.*?)\n```")

// extractPythonCode pulls the first fenced code block out of a model
// reply, falling back to an import-anchored scan for unfenced replies.
func extractPythonCode(response string) string {
	if m := codeBlockPattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}

	lines := strings.Split(response, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		line := lines[i]
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if looksLikeCode(trimmed) {
			continue
		}
		end = i
		break
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// looksLikeCode is a rough statement check for unfenced extraction.
func looksLikeCode(line string) bool {
	for _, prefix := range []string{
		"import ", "from ", "def ", "class ", "if ", "elif ", "else", "for ",
		"while ", "try", "except", "finally", "with ", "return ", "print(",
		"plt.", "#", "@",
	} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	// Assignments and calls.
	return strings.Contains(line, "=") || strings.Contains(line, "(")
}

func truncateRunes(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
