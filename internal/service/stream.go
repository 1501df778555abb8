package service

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/event"
)

// ChunkType classifies streamed content.
type ChunkType string

const (
	ChunkToken                 ChunkType = "token"
	ChunkToolCall              ChunkType = "tool_call"
	ChunkToolResult            ChunkType = "tool_result"
	ChunkReasoning             ChunkType = "reasoning"
	ChunkStatus                ChunkType = "status"
	ChunkProcessStep           ChunkType = "process_step"
	ChunkToolDetection         ChunkType = "tool_detection"
	ChunkToolExecutionStart    ChunkType = "tool_execution_start"
	ChunkToolExecutionComplete ChunkType = "tool_execution_complete"
)

// ChunkTypes lists every chunk type.
func ChunkTypes() []ChunkType {
	return []ChunkType{
		ChunkToken, ChunkToolCall, ChunkToolResult, ChunkReasoning, ChunkStatus,
		ChunkProcessStep, ChunkToolDetection, ChunkToolExecutionStart, ChunkToolExecutionComplete,
	}
}

// Chunk is one unit of streamed content.
type Chunk struct {
	Content   string         `json:"content"`
	Type      ChunkType      `json:"chunk_type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// ChunkFunc receives flushed chunks of one type.
type ChunkFunc func(Chunk)

// StreamStats describes the buffer state.
type StreamStats struct {
	Streaming           bool              `json:"is_streaming"`
	StreamType          string            `json:"current_stream_type,omitempty"`
	CurrentTokens       int               `json:"current_tokens"`
	TotalTokens         int               `json:"total_tokens"`
	Buffered            int               `json:"buffer_size"`
	Enabled             bool              `json:"enabled"`
	Flushes             int64             `json:"flushes"`
	RegisteredCallbacks map[ChunkType]int `json:"registered_callbacks"`
}

// StreamBuffer batches model output for downstream consumers. Tokens are
// delivered in batches of the configured size or on the flush interval;
// every other chunk type flushes the buffer immediately.
type StreamBuffer struct {
	cfg    config.Stream
	events Emitter

	mu         sync.Mutex
	enabled    bool
	streaming  bool
	streamType string
	buf        []Chunk
	current    int
	total      int
	callbacks  map[ChunkType][]ChunkFunc
	onToken    []func(string)
	stop       chan struct{}
	flushes    int64

	// flushMu keeps batches in order when the ticker and a writer flush
	// at the same time.
	flushMu sync.Mutex

	now func() time.Time
}

// NewStreamBuffer creates a buffer. events may be nil.
func NewStreamBuffer(cfg config.Stream, events Emitter) *StreamBuffer {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 10
	}
	return &StreamBuffer{
		cfg:       cfg,
		events:    events,
		enabled:   cfg.Enabled,
		callbacks: make(map[ChunkType][]ChunkFunc),
		now:       time.Now,
	}
}

// Start begins a streaming session. totalTokens may be 0 when unknown.
// Content still buffered from a previous session is flushed first.
func (s *StreamBuffer) Start(streamType string, totalTokens int) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	restart := s.streaming
	s.mu.Unlock()
	if restart {
		s.Flush()
	}

	s.mu.Lock()
	s.streaming = true
	s.streamType = streamType
	s.buf = s.buf[:0]
	s.current = 0
	s.total = max(totalTokens, 0)
	if s.stop == nil && s.cfg.FlushInterval > 0 {
		s.stop = make(chan struct{})
		go s.tick(s.stop)
	}
	s.mu.Unlock()

	slog.Debug("streaming started", "stream_type", streamType)
	s.emit(event.StreamingStarted, streamType)
}

func (s *StreamBuffer) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// OnToken registers a function called synchronously for every token as it
// arrives, before batching.
func (s *StreamBuffer) OnToken(fn func(string)) {
	s.mu.Lock()
	s.onToken = append(s.onToken, fn)
	s.mu.Unlock()
}

// AddToken appends a token. It is ignored unless a session is active.
func (s *StreamBuffer) AddToken(token string, metadata map[string]any) {
	s.mu.Lock()
	if !s.streaming || !s.enabled {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, s.chunk(token, ChunkToken, metadata))
	s.current++
	full := len(s.buf) >= s.cfg.BufferSize
	listeners := slices.Clone(s.onToken)
	s.mu.Unlock()

	for _, fn := range listeners {
		if err := safeCall(func() error { fn(token); return nil }); err != nil {
			slog.Warn("token listener failed", "error", err)
		}
	}
	if full {
		s.Flush()
	}
}

// AddChunk appends a typed chunk. Any chunk other than a token flushes the
// buffer immediately.
func (s *StreamBuffer) AddChunk(content string, chunkType ChunkType, metadata map[string]any) {
	s.mu.Lock()
	if !s.streaming || !s.enabled {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, s.chunk(content, chunkType, metadata))
	s.mu.Unlock()

	if chunkType != ChunkToken {
		s.Flush()
	}
}

func (s *StreamBuffer) chunk(content string, t ChunkType, metadata map[string]any) Chunk {
	md := maps.Clone(metadata)
	if md == nil {
		md = map[string]any{}
	}
	return Chunk{Content: content, Type: t, Timestamp: s.now(), Metadata: md}
}

// Flush delivers all buffered chunks to the callbacks registered for their
// type, in arrival order.
func (s *StreamBuffer) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	callbacks := make(map[ChunkType][]ChunkFunc, len(s.callbacks))
	for t, fns := range s.callbacks {
		callbacks[t] = append([]ChunkFunc(nil), fns...)
	}
	s.flushes++
	s.mu.Unlock()

	for _, c := range batch {
		for _, fn := range callbacks[c.Type] {
			if err := safeCall(func() error { fn(c); return nil }); err != nil {
				slog.Warn("stream callback failed", "chunk_type", string(c.Type), "error", err)
			}
		}
	}
}

// Finish flushes the remainder and ends the session.
func (s *StreamBuffer) Finish() {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.Flush()

	s.mu.Lock()
	streamType := s.streamType
	s.streaming = false
	s.streamType = ""
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	if streamType == "" {
		streamType = "unknown"
	}
	slog.Debug("streaming finished", "stream_type", streamType)
	s.emit(event.StreamingFinished, streamType)
}

// Register adds a callback for one chunk type.
func (s *StreamBuffer) Register(t ChunkType, fn ChunkFunc) {
	s.mu.Lock()
	s.callbacks[t] = append(s.callbacks[t], fn)
	s.mu.Unlock()
}

// Progress returns the tokens received and the expected total.
func (s *StreamBuffer) Progress() (current, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.total
}

// Fraction returns progress in [0, 1], or 0 when the total is unknown.
func (s *StreamBuffer) Fraction() float64 {
	cur, total := s.Progress()
	if total <= 0 {
		return 0
	}
	return min(float64(cur)/float64(total), 1)
}

// IsStreaming reports whether a session is active.
func (s *StreamBuffer) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// SetEnabled toggles streaming. Disabling ends an active session.
func (s *StreamBuffer) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	active := s.streaming
	s.mu.Unlock()

	if !enabled && active {
		s.Finish()
	}
	slog.Info("streaming toggled", "enabled", enabled)
}

// Stats returns a snapshot of the buffer state.
func (s *StreamBuffer) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb := make(map[ChunkType]int, len(s.callbacks))
	for t, fns := range s.callbacks {
		cb[t] = len(fns)
	}
	return StreamStats{
		Streaming:           s.streaming,
		StreamType:          s.streamType,
		CurrentTokens:       s.current,
		TotalTokens:         s.total,
		Buffered:            len(s.buf),
		Enabled:             s.enabled,
		Flushes:             s.flushes,
		RegisteredCallbacks: cb,
	}
}

// ProcessStep streams a named pipeline step.
func (s *StreamBuffer) ProcessStep(name, description string) {
	s.AddChunk(description, ChunkProcessStep, map[string]any{"step_name": name})
}

// Reasoning streams model reasoning text.
func (s *StreamBuffer) Reasoning(text string) {
	s.AddChunk(text, ChunkReasoning, nil)
}

// ToolCallDetected streams a planned tool call.
func (s *StreamBuffer) ToolCallDetected(tool string, params map[string]any) {
	s.AddChunk("Tool call detected: "+tool, ChunkToolDetection, map[string]any{
		"tool_name":  tool,
		"parameters": params,
		"timestamp":  s.now().Format(time.RFC3339Nano),
	})
}

// ToolExecutionStarted streams the start of a tool execution.
func (s *StreamBuffer) ToolExecutionStarted(tool string, params map[string]any) {
	s.AddChunk("Executing tool: "+tool, ChunkToolExecutionStart, map[string]any{
		"tool_name":  tool,
		"parameters": params,
	})
}

// ToolExecutionCompleted streams a tool result.
func (s *StreamBuffer) ToolExecutionCompleted(r agent.ToolResult) {
	s.AddChunk(fmt.Sprintf("Tool %s completed: %s", r.ToolName, r.Status), ChunkToolExecutionComplete, map[string]any{
		"tool_name": r.ToolName,
		"call_id":   r.CallID,
		"status":    string(r.Status),
		"error":     r.Error,
	})
}

func (s *StreamBuffer) emit(t event.Type, streamType string) {
	if s.events == nil {
		return
	}
	s.events.Emit(t, "stream_buffer", map[string]any{"stream_type": streamType}, EmitOptions{Priority: event.PriorityLow})
}
