package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

var errBoom = errors.New("boom")

// fakeEmbedder maps known texts to fixed vectors and everything else to a
// constant vector.
type fakeEmbedder struct {
	dim        int
	vectors    map[string][]float32
	err        error
	batchCalls atomic.Int32
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = 1
	}
	return v, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// fakeModel answers with a fixed reply and records what it was asked.
type fakeModel struct {
	answer string
	err    error

	mu     sync.Mutex
	calls  int
	system string
	last   []domain.Message
}

func (m *fakeModel) ModelName() string { return "fake" }

func (m *fakeModel) Complete(ctx context.Context, system string, messages []domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.system = system
	m.last = domain.CloneMessages(messages)
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *fakeModel) lastMessages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// spyStore wraps a FragmentStore, logging call order and optionally
// failing reads.
type spyStore struct {
	port.FragmentStore
	readErr error

	mu     sync.Mutex
	events []string
}

func (s *spyStore) log(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *spyStore) Put(ctx context.Context, frags []domain.Fragment) error {
	s.log("put")
	return s.FragmentStore.Put(ctx, frags)
}

func (s *spyStore) GetByPaths(ctx context.Context, paths []string, ownerID string) ([]domain.Fragment, error) {
	s.log("get")
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.FragmentStore.GetByPaths(ctx, paths, ownerID)
}

func (s *spyStore) GetByOwner(ctx context.Context, ownerID string) ([]domain.Fragment, error) {
	s.log("get")
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.FragmentStore.GetByOwner(ctx, ownerID)
}

func (s *spyStore) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// recordingSubmitter captures submitted payloads without running them.
type recordingSubmitter struct {
	mu       sync.Mutex
	payloads []domain.JobPayload
}

func (r *recordingSubmitter) Submit(ctx context.Context, ownerID string, payload domain.JobPayload) (domain.JobHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return domain.JobHandle{ID: "job-1"}, nil
}

func userMsg(text string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: domain.TextContent(text)}
}
