// Package testutil provides in-memory fakes for the gateway's ports, shared
// by the unit tests across packages.
package testutil

import (
	"context"
	"errors"
	"sync"

	"telegate/internal/entities"
	"telegate/internal/interfaces"
)

// ErrBoom is a generic failure for scripting fakes.
var ErrBoom = errors.New("boom")

// FakeTransport is a scriptable Transport.
type FakeTransport struct {
	mu sync.Mutex

	Authorized  bool
	Hint        string
	DisplayName string
	Chats       []entities.Chat
	Messages    []entities.ChatMessage

	SendCodeErr   error
	SignInErr     error
	DialogsErr    error
	HistoryErr    error
	SendErr       error
	DisconnectErr error

	CodeRequests int
	LoggedOut    bool
	Disconnected bool
	SentTo       []string
}

func (t *FakeTransport) SendCode(ctx context.Context, phone string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendCodeErr != nil {
		return "", t.SendCodeErr
	}
	t.CodeRequests++
	return t.Hint, nil
}

func (t *FakeTransport) SignIn(ctx context.Context, phone, code string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SignInErr != nil {
		return "", t.SignInErr
	}
	t.Authorized = true
	return t.DisplayName, nil
}

func (t *FakeTransport) IsAuthorized(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Authorized, nil
}

func (t *FakeTransport) Dialogs(ctx context.Context) ([]entities.Chat, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialogsErr != nil {
		return nil, t.DialogsErr
	}
	return t.Chats, nil
}

func (t *FakeTransport) History(ctx context.Context, chatID int64, limit int) ([]entities.ChatMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.HistoryErr != nil {
		return nil, t.HistoryErr
	}
	return t.Messages, nil
}

func (t *FakeTransport) SendMessage(ctx context.Context, recipient, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.SentTo = append(t.SentTo, recipient)
	return nil
}

func (t *FakeTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LoggedOut = true
	t.Authorized = false
	return nil
}

func (t *FakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Disconnected = true
	return t.DisconnectErr
}

// SetSignInErr rescripts the sign-in failure mid-test.
func (t *FakeTransport) SetSignInErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SignInErr = err
}

func (t *FakeTransport) IsDisconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Disconnected
}

// FakeFactory hands out scripted transports and tracks artifacts in memory.
type FakeFactory struct {
	mu        sync.Mutex
	Artifacts map[string]bool
	OpenErr   map[string]error
	Next      map[string]*FakeTransport
	Opened    []*FakeTransport
}

func NewFakeFactory() *FakeFactory {
	return &FakeFactory{
		Artifacts: make(map[string]bool),
		OpenErr:   make(map[string]error),
		Next:      make(map[string]*FakeTransport),
	}
}

func (f *FakeFactory) Open(ctx context.Context, phone string, apiID int, apiHash string) (interfaces.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.OpenErr[phone]; err != nil {
		return nil, err
	}
	t := f.Next[phone]
	if t == nil {
		t = &FakeTransport{}
	}
	delete(f.Next, phone)
	f.Opened = append(f.Opened, t)
	f.Artifacts[phone] = true
	return t, nil
}

func (f *FakeFactory) HasArtifact(phone string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Artifacts[phone]
}

func (f *FakeFactory) RemoveArtifact(phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Artifacts, phone)
	return nil
}

// FakeAccountStore is an in-memory AccountStore.
type FakeAccountStore struct {
	mu       sync.Mutex
	Accounts map[string]entities.Account
	Links    map[string]map[string]bool
	ListErr  error
}

func NewFakeAccountStore() *FakeAccountStore {
	return &FakeAccountStore{
		Accounts: make(map[string]entities.Account),
		Links:    make(map[string]map[string]bool),
	}
}

func (s *FakeAccountStore) Upsert(ctx context.Context, account *entities.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Accounts[account.Phone] = *account
	return nil
}

func (s *FakeAccountStore) List(ctx context.Context, ownerID string) ([]entities.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []entities.Account
	for phone, acct := range s.Accounts {
		if ownerID != "" && !s.Links[phone][ownerID] {
			continue
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *FakeAccountStore) LinkOwner(ctx context.Context, phone, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Links[phone] == nil {
		s.Links[phone] = make(map[string]bool)
	}
	if s.Links[phone][ownerID] {
		return false, nil
	}
	s.Links[phone][ownerID] = true
	return true, nil
}

func (s *FakeAccountStore) IsOwner(ctx context.Context, phone, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Links[phone][ownerID], nil
}

func (s *FakeAccountStore) Exists(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Accounts[phone]
	return ok, nil
}

func (s *FakeAccountStore) Delete(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Accounts, phone)
	return nil
}

// Account returns the stored credential row for phone.
func (s *FakeAccountStore) Account(phone string) (entities.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.Accounts[phone]
	return acct, ok
}

// Has reports whether a credential row exists for phone.
func (s *FakeAccountStore) Has(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Accounts[phone]
	return ok
}

// LinkCount returns how many owners are linked to phone.
func (s *FakeAccountStore) LinkCount(phone string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Links[phone])
}

// FakeUserStore is an in-memory UserStore with unique username and email.
type FakeUserStore struct {
	mu    sync.Mutex
	Users map[string]entities.User
}

func NewFakeUserStore() *FakeUserStore {
	return &FakeUserStore{Users: make(map[string]entities.User)}
}

func (s *FakeUserStore) Create(ctx context.Context, user *entities.User) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return nil, nil
		}
	}
	s.Users[user.ID] = *user
	copied := *user
	return &copied, nil
}

func (s *FakeUserStore) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return s.find(func(u entities.User) bool { return u.Username == username })
}

func (s *FakeUserStore) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	return s.find(func(u entities.User) bool { return u.Email == email })
}

func (s *FakeUserStore) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return s.find(func(u entities.User) bool { return u.ID == id })
}

func (s *FakeUserStore) find(match func(entities.User) bool) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if match(u) {
			copied := u
			return &copied, nil
		}
	}
	return nil, nil
}
