package answers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"memebot/pkg/knowledge"
	"memebot/pkg/textmatch"
)

// KnowledgeStore persists question to answer pairs. Questions compare
// case-insensitively after trimming. All lists questions in insertion order.
type KnowledgeStore interface {
	Exists(ctx context.Context, question string) (bool, error)
	Read(ctx context.Context, question string) (answer string, found bool, err error)
	Create(ctx context.Context, question, answer string) error
	Update(ctx context.Context, question, answer string) error
	Destroy(ctx context.Context, question string) error
	All(ctx context.Context) ([]string, error)
}

// Documentation looks up API reference text. An empty result means silence.
type Documentation interface {
	Search(ctx context.Context, query string) (string, error)
}

// Matcher picks the candidate closest to query, if any is close enough.
type Matcher interface {
	Closest(query string, candidates []string) (string, bool)
}

// ServiceOption mutates service configuration.
type ServiceOption func(*Service)

// WithRouter replaces the default rule table.
func WithRouter(router *Router) ServiceOption {
	return func(s *Service) {
		if router != nil {
			s.router = router
		}
	}
}

// WithMatcher replaces the fuzzy matcher used by answer lookups.
func WithMatcher(matcher Matcher) ServiceOption {
	return func(s *Service) {
		if matcher != nil {
			s.matcher = matcher
		}
	}
}

// WithLogger configures structured logging.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service turns chat lines into replies. It never returns an error to the
// caller; store failures become a generic apology and are logged.
type Service struct {
	router  *Router
	store   KnowledgeStore
	docs    Documentation
	matcher Matcher
	logger  *slog.Logger

	// mutationMu serializes create, update and delete including their
	// existence checks.
	mutationMu sync.Mutex
}

// NewService creates a service over store and docs.
func NewService(store KnowledgeStore, docs Documentation, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("new answers service: nil knowledge store")
	}
	if docs == nil {
		return nil, fmt.Errorf("new answers service: nil documentation")
	}

	router, err := NewRouter(DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("new answers service: %w", err)
	}
	service := &Service{
		router:  router,
		store:   store,
		docs:    docs,
		matcher: textmatch.New(),
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(service)
	}

	return service, nil
}

// Handle routes line and executes it. ok is false when no reply should be
// sent.
func (s *Service) Handle(ctx context.Context, line string) (reply string, ok bool) {
	intent, err := s.router.Route(line)
	if err != nil {
		return "", false
	}

	return s.Execute(ctx, intent)
}

// Execute runs one already classified intent.
func (s *Service) Execute(ctx context.Context, intent Intent) (reply string, ok bool) {
	switch intent.Kind {
	case IntentDocumentation:
		return s.documentation(ctx, intent.Query)
	case IntentListAll:
		reply, err := s.listAll(ctx)
		return s.finish(ctx, intent, reply, err)
	case IntentCreate:
		reply, err := s.create(ctx, intent.Question, intent.Answer)
		return s.finish(ctx, intent, reply, err)
	case IntentRead:
		reply, err := s.read(ctx, intent.Question)
		return s.finish(ctx, intent, reply, err)
	case IntentUpdate:
		reply, err := s.update(ctx, intent.Question, intent.Answer)
		return s.finish(ctx, intent, reply, err)
	case IntentDelete:
		reply, err := s.destroy(ctx, intent.Question)
		return s.finish(ctx, intent, reply, err)
	default:
		return "", false
	}
}

func (s *Service) finish(ctx context.Context, intent Intent, reply string, err error) (string, bool) {
	if err != nil {
		s.logger.ErrorContext(ctx, "answers intent failed",
			"intent", intent.Kind.String(),
			"question", intent.Question,
			"error", err,
		)
		return replyTransient, true
	}

	return reply, true
}

func (s *Service) documentation(ctx context.Context, query string) (string, bool) {
	result, err := s.docs.Search(ctx, query)
	if err != nil {
		s.logger.WarnContext(ctx, "documentation search failed", "query", query, "error", err)
		return "", false
	}
	if result == "" {
		return "", false
	}

	return result, true
}

func (s *Service) listAll(ctx context.Context) (string, error) {
	questions, err := s.store.All(ctx)
	if err != nil {
		return "", fmt.Errorf("list all: %w", err)
	}

	return listReply(questions), nil
}

func (s *Service) create(ctx context.Context, question, answer string) (string, error) {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	exists, err := s.store.Exists(ctx, question)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", question, err)
	}
	if !exists {
		err = s.store.Create(ctx, question, answer)
		if err == nil {
			return createdReply(question, answer), nil
		}
		// Another writer sharing the store may have won the race.
		if !errors.Is(err, knowledge.ErrExists) {
			return "", fmt.Errorf("create %q: %w", question, err)
		}
	}

	current, _, err := s.store.Read(ctx, question)
	if err != nil {
		return "", fmt.Errorf("create %q: read current: %w", question, err)
	}

	return collisionReply(question, current), nil
}

func (s *Service) read(ctx context.Context, question string) (string, error) {
	answer, found, err := s.store.Read(ctx, question)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", question, err)
	}
	if found {
		return answer, nil
	}

	questions, err := s.store.All(ctx)
	if err != nil {
		return "", fmt.Errorf("read %q: list candidates: %w", question, err)
	}
	if closest, ok := s.matcher.Closest(question, questions); ok {
		return closestReply(closest), nil
	}

	return replyNotFound, nil
}

func (s *Service) update(ctx context.Context, question, answer string) (string, error) {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	exists, err := s.store.Exists(ctx, question)
	if err != nil {
		return "", fmt.Errorf("update %q: %w", question, err)
	}
	if !exists {
		return replyNotFound, nil
	}

	err = s.store.Update(ctx, question, answer)
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		return replyNotFound, nil
	case err != nil:
		return "", fmt.Errorf("update %q: %w", question, err)
	}

	return updatedReply(question, answer), nil
}

func (s *Service) destroy(ctx context.Context, question string) (string, error) {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	exists, err := s.store.Exists(ctx, question)
	if err != nil {
		return "", fmt.Errorf("destroy %q: %w", question, err)
	}
	if !exists {
		return replyNotFound, nil
	}

	err = s.store.Destroy(ctx, question)
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		return replyNotFound, nil
	case err != nil:
		return "", fmt.Errorf("destroy %q: %w", question, err)
	}

	return forgotReply(question), nil
}
