package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/intent"
	"github.com/LiuHarry1/general-chatbot/pkg/kv"
	"github.com/LiuHarry1/general-chatbot/pkg/memory"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLLM struct {
	generated string
	genErr    error
	chunks    []string

	genPrompts []string
}

func (f *fakeLLM) Generate(_ context.Context, messages []qwen.Message, _ *qwen.Params) (string, error) {
	f.genPrompts = append(f.genPrompts, messages[0].Content)
	return f.generated, f.genErr
}

func (f *fakeLLM) Stream(context.Context, []qwen.Message, *qwen.Params) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, c := range f.chunks {
			if !yield(c) {
				return
			}
		}
	}
}

type fakeClassifier struct {
	result *intent.Result
}

func (f *fakeClassifier) Classify(context.Context, string, []intent.Attachment, []memory.Turn) *intent.Result {
	return f.result
}

type fakeStore struct {
	saved   []string // persisted AI responses
	saveErr error
	intents []string
}

func (f *fakeStore) SaveTurn(_ context.Context, _, _, _, response, intentName string, _ []string) (*SavedMessages, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = append(f.saved, response)
	f.intents = append(f.intents, intentName)
	return &SavedMessages{UserMessageID: "um-1", AIMessageID: "am-1"}, nil
}

type fakeSandbox struct {
	result *ExecResult
	err    error
	code   string
}

func (f *fakeSandbox) Execute(_ context.Context, code, _ string) (*ExecResult, error) {
	f.code = code
	return f.result, f.err
}

type fixture struct {
	svc       *Service
	llm       *fakeLLM
	store     *fakeStore
	shortTerm *memory.ShortTerm
}

func newFixture(t *testing.T, llm *fakeLLM, cls Classifier, sandbox Sandbox) *fixture {
	t.Helper()
	kvStore := kv.NewMemory()
	shortTerm := memory.NewShortTerm(kvStore, nil, nil, memory.ShortTermConfig{}, discardLogger())
	mgr := memory.NewManager(shortTerm, nil, nil, kvStore, memory.ManagerConfig{ShortTermEnabled: true}, discardLogger())
	store := &fakeStore{}
	svc := NewService(llm, cls, mgr, store, sandbox, discardLogger())
	t.Cleanup(func() { svc.Close(time.Second) })
	return &fixture{svc: svc, llm: llm, store: store, shortTerm: shortTerm}
}

func respond(t *testing.T, f *fixture, req Request) []Event {
	t.Helper()
	var buf bytes.Buffer
	f.svc.Respond(context.Background(), req, NewEventWriter(&buf))
	return parseEvents(t, buf.String())
}

func parseEvents(t *testing.T, raw string) []Event {
	t.Helper()
	var events []Event
	for _, block := range strings.Split(raw, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload, ok := strings.CutPrefix(block, "data: ")
		if !ok {
			t.Fatalf("malformed SSE block: %q", block)
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("unparseable event %q: %v", payload, err)
		}
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRespondNormal(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"你好！", "有什么可以帮你的吗？"}}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Normal, Confidence: 0.9}}
	f := newFixture(t, llm, cls, nil)

	events := respond(t, f, Request{UserID: "u1", ConversationID: "c1", Message: "你好"})

	types := eventTypes(events)
	want := []string{EventContent, EventContent, EventMessageCreated, EventEnd}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", types, want)
	}
	created := events[2]
	if created.Intent != "normal" || created.UserMessageID != "um-1" || created.AIMessageID != "am-1" {
		t.Fatalf("message_created = %+v", created)
	}
	if f.store.saved[0] != "你好！有什么可以帮你的吗？" {
		t.Fatalf("persisted response = %q", f.store.saved[0])
	}

	// Drain the async memory update, then check the working set.
	f.svc.Close(time.Second)
	res, err := f.shortTerm.GetRecentContext(context.Background(), "u1", "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.RecentTurns != 1 {
		t.Fatalf("short-term has %d turns, want 1", res.RecentTurns)
	}
}

func TestRespondStreamError(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"错误: RateLimit - 请求过于频繁"}}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Normal}}
	f := newFixture(t, llm, cls, nil)

	events := respond(t, f, Request{UserID: "u1", Message: "你好"})

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %v, want a single error event", eventTypes(events))
	}
	if len(f.store.saved) != 0 {
		t.Fatal("failed stream was persisted")
	}
}

func TestRespondMidStreamError(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"部分回答", "错误: Unavailable - 服务中断"}}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Normal}}
	f := newFixture(t, llm, cls, nil)

	events := respond(t, f, Request{UserID: "u1", Message: "你好"})

	types := eventTypes(events)
	if strings.Join(types, ",") != EventContent+","+EventError {
		t.Fatalf("event order = %v, want flushed chunk then trailing error", types)
	}
}

func TestRespondEmptyMessage(t *testing.T) {
	f := newFixture(t, &fakeLLM{}, &fakeClassifier{result: &intent.Result{Intent: intent.Normal}}, nil)

	events := respond(t, f, Request{UserID: "u1", Message: "   "})
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %v, want a single error event", eventTypes(events))
	}
}

func TestRespondAntiScrapeWeb(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"抱歉，该网页启用了反爬虫保护，无法读取内容。建议手动复制正文后再试。"}}
	cls := &fakeClassifier{result: &intent.Result{
		Intent:     intent.Web,
		Content:    "错误：无法访问网页内容，可能遇到反爬虫保护。\n\n原始问题：分析 https://example-antibot.test 的内容",
		Confidence: 0.8,
	}}
	f := newFixture(t, llm, cls, nil)

	events := respond(t, f, Request{UserID: "u1", Message: "分析 https://example-antibot.test 的内容"})

	types := eventTypes(events)
	want := []string{EventContent, EventMessageCreated, EventEnd}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", types, want)
	}
	for _, ev := range events {
		if ev.Type == EventContent && strings.Contains(ev.Content, "<html") {
			t.Fatal("content event leaked raw HTML")
		}
	}
	created := events[1]
	if created.Intent != "web" || len(created.Sources) != 0 {
		t.Fatalf("message_created = %+v, want web intent with no sources", created)
	}
}

func TestRespondCodeTwoPhase(t *testing.T) {
	llm := &fakeLLM{
		generated: "```python\nimport matplotlib.pyplot as plt\nimport numpy as np\nx = np.linspace(0, 10, 100)\nplt.plot(x, np.sin(x))\nplt.savefig('a.png')\n```",
		chunks:    []string{"我绘制了正弦曲线，", "图中展示了一个完整周期的波形。"},
	}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Code, Confidence: 0.9}}
	sandbox := &fakeSandbox{result: &ExecResult{
		Success: true,
		Images:  []SandboxImage{{URL: "/img/a.png", Filename: "a.png"}},
	}}
	f := newFixture(t, llm, cls, sandbox)

	events := respond(t, f, Request{UserID: "u1", Message: "画一个正弦曲线"})

	types := eventTypes(events)
	want := []string{EventContent, EventContent, EventImage, EventMessageCreated, EventEnd}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", types, want)
	}
	for _, ev := range events {
		if ev.Type == EventContent && strings.Contains(ev.Content, "matplotlib") {
			t.Fatal("raw code streamed to the client")
		}
	}
	if events[2].URL != "/img/a.png" || events[2].Filename != "a.png" {
		t.Fatalf("image event = %+v", events[2])
	}
	if !strings.Contains(sandbox.code, "plt.plot") {
		t.Fatalf("sandbox received %q", sandbox.code)
	}
	if !strings.Contains(f.store.saved[0], "![a.png](/img/a.png)") {
		t.Fatalf("persisted response missing markdown image: %q", f.store.saved[0])
	}
}

func TestRespondSandboxFailure(t *testing.T) {
	llm := &fakeLLM{generated: "```python\nimport os\nprint(os.getcwd())\n```"}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Code}}
	sandbox := &fakeSandbox{result: &ExecResult{Success: false, Error: "NameError: x is not defined"}}
	f := newFixture(t, llm, cls, sandbox)

	events := respond(t, f, Request{UserID: "u1", Message: "算一下"})

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %v, want a single error event", eventTypes(events))
	}
	if !strings.Contains(events[0].Content, "NameError") {
		t.Fatalf("error event = %+v", events[0])
	}
}

func TestRespondCodeWithoutSandboxStreams(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"可以这样写代码…"}}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Code}}
	f := newFixture(t, llm, cls, nil)

	events := respond(t, f, Request{UserID: "u1", Message: "画图"})

	types := eventTypes(events)
	want := []string{EventContent, EventMessageCreated, EventEnd}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want fallback to the stream path", types)
	}
}

func TestRespondPersistenceFailure(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"回答"}}
	cls := &fakeClassifier{result: &intent.Result{Intent: intent.Normal}}
	f := newFixture(t, llm, cls, nil)
	f.store.saveErr = errors.New("db down")

	events := respond(t, f, Request{UserID: "u1", Message: "你好"})

	types := eventTypes(events)
	want := []string{EventContent, EventMessageCreationError, EventEnd}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", types, want)
	}
	if events[1].Error != "db down" {
		t.Fatalf("creation error event = %+v", events[1])
	}
}
