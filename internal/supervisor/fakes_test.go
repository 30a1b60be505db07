package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/openclaw/wa-relay-go/internal/broker"
	"github.com/openclaw/wa-relay-go/internal/credential"
	"github.com/openclaw/wa-relay-go/internal/model"
)

// fakeClient is a scripted protocol connection.
type fakeClient struct {
	mu         sync.Mutex
	events     chan Event
	connectErr error
	logoutErr  error
	opErr      error
	sendErr    map[string]error
	sent       []string
	groups     []model.Group
	closed     bool
	loggedOut  bool
	creds      *credential.Credentials
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:  make(chan Event, 16),
		sendErr: make(map[string]error),
	}
}

func (f *fakeClient) emit(evt Event) { f.events <- evt }

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClient) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeClient) Events() <-chan Event               { return f.events }

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return f.logoutErr
}

func (f *fakeClient) SendText(ctx context.Context, to, text string) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	if err := f.sendErr[to]; err != nil {
		return SendResult{}, err
	}
	return SendResult{ID: "MSG-" + to, Timestamp: time.Now()}, nil
}

func (f *fakeClient) SendMedia(ctx context.Context, to string, media Media) (SendResult, error) {
	return f.SendText(ctx, to, media.Caption)
}

func (f *fakeClient) JoinedGroups(ctx context.Context) ([]model.Group, error) {
	return f.groups, f.opErr
}

func (f *fakeClient) CreateGroup(ctx context.Context, name string, participants []string) (*model.Group, error) {
	if f.opErr != nil {
		return nil, f.opErr
	}
	members := make([]model.GroupParticipant, 0, len(participants))
	for _, p := range participants {
		members = append(members, model.GroupParticipant{Address: p})
	}
	return &model.Group{Address: "120363000000000001@g.us", Name: name, Participants: members}, nil
}

func (f *fakeClient) UpdateParticipants(ctx context.Context, group string, participants []string, action model.ParticipantAction) error {
	return f.opErr
}
func (f *fakeClient) LeaveGroup(ctx context.Context, group string) error { return f.opErr }
func (f *fakeClient) GroupInviteLink(ctx context.Context, group string, reset bool) (string, error) {
	return "https://chat.whatsapp.com/abc", f.opErr
}
func (f *fakeClient) SetPresence(ctx context.Context, presence model.Presence) error { return f.opErr }
func (f *fakeClient) SendTyping(ctx context.Context, chat string, typing bool) error  { return f.opErr }
func (f *fakeClient) SubscribePresence(ctx context.Context, address string) error     { return f.opErr }
func (f *fakeClient) SetStatusMessage(ctx context.Context, text string) error         { return f.opErr }
func (f *fakeClient) ProfilePictureURL(ctx context.Context, address string) (string, error) {
	return "https://pps.whatsapp.net/pic.jpg", f.opErr
}
func (f *fakeClient) CheckNumbers(ctx context.Context, phones []string) ([]model.NumberCheck, error) {
	out := make([]model.NumberCheck, 0, len(phones))
	for _, p := range phones {
		out = append(out, model.NumberCheck{Query: p, Exists: true})
	}
	return out, f.opErr
}

// fakeFactory hands out fakeClients. A non-nil gate blocks NewClient until
// the gate is closed.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	err     error
	// connectErr is handed to every client built from now on.
	connectErr error
	gate       chan struct{}
	entered    chan struct{}
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{entered: make(chan struct{}, 16)}
}

func (f *fakeFactory) NewClient(ctx context.Context, sessionID string, creds *credential.Credentials) (Client, error) {
	select {
	case f.entered <- struct{}{}:
	default:
	}

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		f.clients = append(f.clients, nil)
		return nil, f.err
	}
	client := newFakeClient()
	client.creds = creds
	client.connectErr = f.connectErr
	f.clients = append(f.clients, client)
	return client, nil
}

func (f *fakeFactory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFactory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[len(f.clients)-1]
}

// memSessions mirrors the SQL repository semantics in memory.
type memSessions struct {
	mu      sync.Mutex
	records map[string]*model.Session
	history map[string][]model.SessionStatus
	listErr error
}

func newMemSessions() *memSessions {
	return &memSessions{
		records: make(map[string]*model.Session),
		history: make(map[string][]model.SessionStatus),
	}
}

func (m *memSessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *memSessions) List(ctx context.Context) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []model.Session{}
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memSessions) ListRestorable(ctx context.Context) ([]model.Session, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.Session{}
	for _, r := range all {
		if !r.Status.IsTerminal() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSessions) Upsert(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		r = &model.Session{ID: id, CreatedAt: time.Now()}
		m.records[id] = r
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	m.history[id] = append(m.history[id], status)
	copied := *r
	return &copied, nil
}

func (m *memSessions) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, phone *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil
	}
	r.Status = status
	if phone != nil {
		r.PhoneNumber = phone
	}
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *memSessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memSessions) status(id string) model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r.Status
	}
	return ""
}

func (m *memSessions) exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok
}

type memCreds struct {
	mu      sync.Mutex
	devices map[string]string
}

func newMemCreds() *memCreds {
	return &memCreds{devices: make(map[string]string)}
}

func (m *memCreds) Load(ctx context.Context, sessionID string) (*credential.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if device, ok := m.devices[sessionID]; ok {
		return &credential.Credentials{SessionID: sessionID, DeviceID: device}, nil
	}
	return nil, nil
}

func (m *memCreds) Save(ctx context.Context, sessionID string, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[sessionID] = deviceID
	return nil
}

func (m *memCreds) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, sessionID)
	return nil
}

func (m *memCreds) device(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[sessionID]
	return d, ok
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Insert(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) History(ctx context.Context, params model.HistoryParams) ([]model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []broker.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event broker.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []broker.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []broker.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var errBoom = errors.New("boom")
