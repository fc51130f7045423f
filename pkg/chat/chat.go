// Package chat implements the request orchestrator: one inbound message
// becomes an intent decision, a memory-augmented prompt, a streamed
// model reply, and a fire-and-forget memory update.
//
// The orchestrator never lets an error escape: every failure becomes a
// user-visible error event or a logged degradation. Post-response work
// runs on a small owned worker pool so it survives the request that
// spawned it; Close drains in-flight work with a bounded deadline.
package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/intent"
	"github.com/LiuHarry1/general-chatbot/pkg/memory"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
)

// Request is one inbound chat message.
type Request struct {
	UserID         string              `json:"user_id"`
	ConversationID string              `json:"conversation_id"`
	Message        string              `json:"message"`
	Attachments    []intent.Attachment `json:"attachments,omitempty"`
}

// SavedMessages identifies the persisted user/assistant message pair.
type SavedMessages struct {
	UserMessageID string
	AIMessageID   string
}

// MessageStore persists finished turns (the upstream application
// database). A nil store skips persistence and the message_created
// event carries empty IDs.
type MessageStore interface {
	SaveTurn(ctx context.Context, userID, conversationID, message, response, intentName string, sources []string) (*SavedMessages, error)
}

// SandboxImage is one artifact produced by code execution.
type SandboxImage struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// ExecResult is the outcome of a sandbox run.
type ExecResult struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Error   string         `json:"error,omitempty"`
	Images  []SandboxImage `json:"images,omitempty"`
}

// Sandbox executes generated Python code in isolation.
type Sandbox interface {
	Execute(ctx context.Context, code, userID string) (*ExecResult, error)
}

// LLM is the generation client surface the orchestrator needs.
// *qwen.Client satisfies it.
type LLM interface {
	Generate(ctx context.Context, messages []qwen.Message, params *qwen.Params) (string, error)
	Stream(ctx context.Context, messages []qwen.Message, params *qwen.Params) iter.Seq[string]
}

// Classifier decides the request intent. *intent.Classifier satisfies it.
type Classifier interface {
	Classify(ctx context.Context, message string, attachments []intent.Attachment, recentTurns []memory.Turn) *intent.Result
}

// streamErrorPrefix marks a terminal error chunk from the LLM stream.
const streamErrorPrefix = "错误:"

// asyncWorkers is the size of the post-response worker pool.
const asyncWorkers = 4

// Service drives chat requests end to end.
type Service struct {
	llm        LLM
	classifier Classifier
	memory     *memory.Manager
	messages   MessageStore
	sandbox    Sandbox
	log        *slog.Logger

	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// NewService wires the orchestrator. messages and sandbox may be nil.
func NewService(llm LLM, classifier Classifier, mem *memory.Manager, messages MessageStore, sandbox Sandbox, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		llm:        llm,
		classifier: classifier,
		memory:     mem,
		messages:   messages,
		sandbox:    sandbox,
		log:        log,
		tasks:      make(chan func(), 64),
	}
	for i := 0; i < asyncWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for task := range s.tasks {
				task()
			}
		}()
	}
	return s
}

// Close stops accepting async work and drains in-flight tasks, up to
// the given deadline.
func (s *Service) Close(timeout time.Duration) {
	s.once.Do(func() { close(s.tasks) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warn("async worker shutdown deadline exceeded")
	}
}

// submit queues post-response work, falling back to inline execution
// when the queue is saturated.
func (s *Service) submit(task func()) {
	defer func() {
		if recover() != nil {
			// Closed channel during shutdown; run inline.
			task()
		}
	}()
	select {
	case s.tasks <- task:
	default:
		task()
	}
}

// Respond handles one request, writing the SSE event stream to w.
func (s *Service) Respond(ctx context.Context, req Request, w *EventWriter) {
	if req.UserID == "" {
		req.UserID = memory.DefaultUserID
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		w.Write(Event{Type: EventError, Content: "消息不能为空"})
		return
	}

	mem := s.memory.GetConversationContext(ctx, req.UserID, req.ConversationID, req.Message, 3)
	var recentTurns []memory.Turn
	if mem.ShortTermResult != nil {
		recentTurns = mem.ShortTermResult.Turns
	}

	res := s.classifier.Classify(ctx, req.Message, req.Attachments, recentTurns)
	s.log.Info("classified request",
		"user", req.UserID, "intent", res.Intent, "confidence", res.Confidence)

	var sources []string
	if res.SearchResults != nil {
		sources = res.SearchResults.Sources()
	}

	var response string
	var ok bool
	if res.Intent == intent.Code && s.sandbox != nil {
		response, ok = s.respondCode(ctx, req, mem.FullContext, w)
	} else {
		response, ok = s.respondStream(ctx, req, res, mem.FullContext, w)
	}
	if !ok {
		return
	}

	s.finish(ctx, req, res, response, sources, w)
}

// respondStream runs the single-phase path: stream the model reply as
// content events. Returns false if the stream failed.
func (s *Service) respondStream(ctx context.Context, req Request, res *intent.Result, fullContext string, w *EventWriter) (string, bool) {
	messages := buildMessages(systemPrompt(res, fullContext), req.Message)

	var b strings.Builder
	for chunk := range s.llm.Stream(ctx, messages, nil) {
		if strings.HasPrefix(chunk, streamErrorPrefix) {
			s.log.Warn("stream failed", "user", req.UserID, "detail", chunk)
			w.Write(Event{Type: EventError, Content: chunk})
			return "", false
		}
		if err := w.Content(chunk); err != nil {
			// Client went away; no point streaming further.
			s.log.Warn("client disconnected mid-stream", "user", req.UserID, "err", err)
			return "", false
		}
		b.WriteString(chunk)
	}
	if b.Len() == 0 {
		w.Write(Event{Type: EventError, Content: "模型没有返回内容"})
		return "", false
	}
	return b.String(), true
}

// respondCode runs the two-phase code path: generate code silently,
// execute it, then stream a natural-language answer over the results.
func (s *Service) respondCode(ctx context.Context, req Request, fullContext string, w *EventWriter) (string, bool) {
	phase1, err := s.llm.Generate(ctx, buildMessages(codeGenPrompt, req.Message), nil)
	if err != nil {
		w.Write(Event{Type: EventError, Content: "代码生成失败：" + err.Error()})
		return "", false
	}
	code := extractPythonCode(phase1)
	if code == "" {
		w.Write(Event{Type: EventError, Content: "未能生成可执行的代码"})
		return "", false
	}

	exec, err := s.sandbox.Execute(ctx, code, req.UserID)
	if err != nil {
		w.Write(Event{Type: EventError, Content: "代码执行失败：" + err.Error()})
		return "", false
	}
	if !exec.Success {
		w.Write(Event{Type: EventError, Content: "代码执行失败：" + exec.Error})
		return "", false
	}

	messages := buildMessages(answerPrompt(exec.Output, len(exec.Images), fullContext), req.Message)
	var b strings.Builder
	for chunk := range s.llm.Stream(ctx, messages, nil) {
		if strings.HasPrefix(chunk, streamErrorPrefix) {
			w.Write(Event{Type: EventError, Content: chunk})
			return "", false
		}
		if err := w.Content(chunk); err != nil {
			return "", false
		}
		b.WriteString(chunk)
	}

	for _, img := range exec.Images {
		w.Write(Event{Type: EventImage, URL: img.URL, Filename: img.Filename})
	}

	// Persist markdown references so the images survive in history.
	response := b.String()
	for _, img := range exec.Images {
		response += fmt.Sprintf("\n\n![%s](%s)", img.Filename, img.URL)
	}
	return response, true
}

// finish persists the turn, closes the stream, and schedules the
// memory update.
func (s *Service) finish(ctx context.Context, req Request, res *intent.Result, response string, sources []string, w *EventWriter) {
	created := Event{
		Type:    EventMessageCreated,
		Intent:  string(res.Intent),
		Sources: sources,
	}
	if s.messages != nil {
		saved, err := s.messages.SaveTurn(ctx, req.UserID, req.ConversationID, req.Message, response, string(res.Intent), sources)
		if err != nil {
			s.log.Warn("message persistence failed", "user", req.UserID, "err", err)
			w.Write(Event{Type: EventMessageCreationError, Error: err.Error()})
		} else {
			created.UserMessageID = saved.UserMessageID
			created.AIMessageID = saved.AIMessageID
			w.Write(created)
		}
	} else {
		w.Write(created)
	}
	w.Write(Event{Type: EventEnd})

	userID, convID, message := req.UserID, req.ConversationID, req.Message
	intentName := string(res.Intent)
	s.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.memory.ProcessConversation(ctx, userID, convID, message, response, intentName, sources)
	})
}
