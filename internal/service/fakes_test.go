package service

import (
	"context"
	"sync"

	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/pkg/llm"
	"finpro-go/pkg/tasks"

	"gorm.io/gorm"
)

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]llm.Message
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.reply, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakePassageRepo struct {
	seeds      []model.Passage
	semantic   []model.Passage
	fetchErr   error
	searchErr  error
	fetchCalls int
	lastLimit  int
	lastK      int
	lastScope  []string
}

func (f *fakePassageRepo) FetchByScope(_ context.Context, scope []string, limit int) ([]model.Passage, error) {
	f.fetchCalls++
	f.lastLimit = limit
	f.lastScope = scope
	return f.seeds, f.fetchErr
}

func (f *fakePassageRepo) SemanticSearch(_ context.Context, _ []float32, _ []string, k int) ([]repository.ScoredPassage, error) {
	f.lastK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]repository.ScoredPassage, 0, len(f.semantic))
	for i, p := range f.semantic {
		out = append(out, repository.ScoredPassage{Passage: p, Score: 1 / float64(i+1)})
	}
	return out, nil
}

type fakeUserRepo struct {
	users map[string]*model.User
	err   error
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[string]*model.User{}}
	for _, u := range users {
		r.users[u.Username] = u
	}
	return r
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	if r.err != nil {
		return r.err
	}
	user.ID = uint(len(r.users) + 1)
	r.users[user.Username] = user
	return nil
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) FindByUsernameAndSession(ctx context.Context, username, sessionID string) (*model.User, error) {
	u, err := r.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.SessionID != sessionID {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

type fakeTurnRepo struct {
	mu        sync.Mutex
	turns     map[string]*model.Turn
	appendErr error
	deleted   []string
}

func newFakeTurnRepo() *fakeTurnRepo {
	return &fakeTurnRepo{turns: map[string]*model.Turn{}}
}

func (r *fakeTurnRepo) Append(_ context.Context, turn *model.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	cp := *turn
	r.turns[turn.ID] = &cp
	return nil
}

func (r *fakeTurnRepo) ListByUser(_ context.Context, userID uint) ([]model.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Turn
	for _, t := range r.turns {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sortTurns(out)
	return out, nil
}

func sortTurns(ts []model.Turn) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Timestamp.Before(ts[j-1].Timestamp); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

func (r *fakeTurnRepo) DeleteBySession(_ context.Context, userID uint, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.turns {
		if t.UserID == userID && t.SessionID == sessionID {
			delete(r.turns, id)
			n++
		}
	}
	r.deleted = append(r.deleted, sessionID)
	return n, nil
}

func (r *fakeTurnRepo) FindForUser(_ context.Context, userID uint, turnID string) (*model.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.turns[turnID]
	if !ok || t.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTurnRepo) AttachFeedback(_ context.Context, userID uint, turnID string, fb model.Feedback) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.turns[turnID]
	if !ok || t.UserID != userID || t.FeedbackType != nil {
		return 0, nil
	}
	typ, score, at := fb.Type, fb.Score, fb.Timestamp
	t.FeedbackType, t.FeedbackScore, t.FeedbackComment, t.FeedbackAt = &typ, &score, fb.Comment, &at
	return 1, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []tasks.TurnPersistTask
}

func (r *fakeRecorder) Record(task tasks.TurnPersistTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, task)
}

func (r *fakeRecorder) Close(context.Context) error { return nil }
