package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cgmelamed/whydatawhy/app/config"
	"github.com/cgmelamed/whydatawhy/app/llm"
	"github.com/cgmelamed/whydatawhy/app/models"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeAccounts struct {
	mu      sync.Mutex
	users   map[string]models.User
	queries []models.Query
	failOn  string
	writes  int
}

func newFakeAccounts(users ...models.User) *fakeAccounts {
	f := &fakeAccounts{users: map[string]models.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeAccounts) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "ping" {
		return errors.New("db down")
	}
	return nil
}

func (f *fakeAccounts) GetUserByID(_ context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "read" {
		return models.User{}, errors.New("db down")
	}
	u, ok := f.users[id]
	if !ok {
		return models.User{}, ErrAccountNotFound
	}
	return u, nil
}

func (f *fakeAccounts) GetUserBySub(_ context.Context, sub string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "read" {
		return models.User{}, errors.New("db down")
	}
	for _, u := range f.users {
		if u.AuthSub == sub {
			return u, nil
		}
	}
	return models.User{}, ErrAccountNotFound
}

func (f *fakeAccounts) UpsertUser(_ context.Context, sub, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.AuthSub == sub {
			if !u.Email.Valid && email != "" {
				u.Email = sql.NullString{String: email, Valid: true}
				f.users[id] = u
			}
			return u, nil
		}
	}
	u := models.User{ID: "id-" + sub, AuthSub: sub, Email: nullIfEmpty(email)}
	f.users[u.ID] = u
	f.writes++
	return u, nil
}

func (f *fakeAccounts) IncrementUsage(_ context.Context, userID string, pro bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "increment" {
		return errors.New("db down")
	}
	u, ok := f.users[userID]
	if !ok {
		return ErrAccountNotFound
	}
	u.TotalQueries++
	if !pro {
		u.FreeQueriesUsed++
	}
	f.users[userID] = u
	f.writes++
	return nil
}

func (f *fakeAccounts) InsertQuery(_ context.Context, userID, question string, dataInfo sql.NullString) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "query" {
		return errors.New("db down")
	}
	f.queries = append(f.queries, models.Query{UserID: userID, Question: question, DataInfo: dataInfo})
	f.writes++
	return nil
}

func (f *fakeAccounts) UpdateSubscriptionByCustomer(_ context.Context, customerID string, sub models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.StripeCustomerID.Valid && u.StripeCustomerID.String == customerID {
			u.StripeSubscriptionID = sql.NullString{String: sub.ID, Valid: true}
			u.StripePriceID = sub.PriceID
			u.StripeCurrentPeriodEnd = sql.NullTime{Time: sub.CurrentPeriodEnd, Valid: true}
			f.users[id] = u
			f.writes++
			return nil
		}
	}
	return ErrAccountNotFound
}

func (f *fakeAccounts) UpdateSubscriptionByID(_ context.Context, sub models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.StripeSubscriptionID.Valid && u.StripeSubscriptionID.String == sub.ID {
			u.StripePriceID = sub.PriceID
			u.StripeCurrentPeriodEnd = sql.NullTime{Time: sub.CurrentPeriodEnd, Valid: true}
			f.users[id] = u
			f.writes++
			return nil
		}
	}
	return ErrAccountNotFound
}

func (f *fakeAccounts) SetStripeCustomerID(_ context.Context, userID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrAccountNotFound
	}
	u.StripeCustomerID = sql.NullString{String: customerID, Valid: true}
	f.users[userID] = u
	f.writes++
	return nil
}

func (f *fakeAccounts) user(id string) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id]
}

// fakeModel replays scripted tokens or a scripted JSON reply.
type fakeModel struct {
	tokens    []string
	streamErr error // returned after tokens are exhausted
	openErr   error
	reply     string
	replyErr  error

	mu          sync.Mutex
	userPrompts []string
}

func (m *fakeModel) Configured() bool { return true }

func (m *fakeModel) Stream(_ context.Context, _, userPrompt string) (llm.TokenStream, error) {
	m.mu.Lock()
	m.userPrompts = append(m.userPrompts, userPrompt)
	m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &fakeStream{tokens: append([]string(nil), m.tokens...), err: m.streamErr}, nil
}

func (m *fakeModel) CompleteJSON(_ context.Context, _, userPrompt string) (string, error) {
	m.mu.Lock()
	m.userPrompts = append(m.userPrompts, userPrompt)
	m.mu.Unlock()
	return m.reply, m.replyErr
}

func (m *fakeModel) prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.userPrompts...)
}

type fakeStream struct {
	tokens []string
	err    error
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *fakeStream) Close() error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

// testClaimsHeader lets router tests act as a signed-in subject without JWTs.
const testClaimsHeader = "X-Test-Sub"

func withTestClaims() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sub := c.GetHeader(testClaimsHeader); sub != "" {
			ctx := auth.WithClaims(c.Request.Context(), &auth.Claims{Subject: sub, Email: sub + "@example.com"})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Environment: "test"},
		Stripe: config.StripeConfig{
			SecretKey:     "sk_test_123",
			WebhookSecret: "whsec_test",
			PriceIDPro:    "price_pro",
			FrontendURL:   "https://app.example/",
		},
	}
}

type testServer struct {
	srv     *Server
	store   *fakeAccounts
	events  *recordingPublisher
	billing *fakeBilling
	router  *gin.Engine
}

func newTestServer(t *testing.T, model llm.Client, users ...models.User) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := newFakeAccounts(users...)
	events := &recordingPublisher{}
	billing := &fakeBilling{subscriptions: map[string]models.Subscription{}}
	srv := NewServer(Deps{
		Config:  testConfig(),
		Logger:  zap.NewNop(),
		Store:   store,
		LLM:     model,
		Billing: billing,
		Events:  events,
	})

	router := gin.New()
	router.Use(withTestClaims())
	srv.registerRoutes(router, func(c *gin.Context) { c.Next() }, func(c *gin.Context) {
		if _, ok := auth.ClaimsFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sign in required", "reason": "unauthenticated"})
			return
		}
		c.Next()
	})
	return &testServer{srv: srv, store: store, events: events, billing: billing, router: router}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}
