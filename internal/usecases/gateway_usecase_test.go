package usecases_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegate/internal/entities"
	"telegate/internal/infrastructure"
	"telegate/internal/testutil"
	"telegate/internal/usecases"
)

const (
	gwPhone   = "+3712000001"
	gwUser    = "user-1"
	gwAPIID   = 12345
	gwAPIHash = "abcdef0123456789"
)

type gatewayFixture struct {
	gw       *usecases.GatewayUsecase
	registry *infrastructure.SessionRegistry
	factory  *testutil.FakeFactory
	accounts *testutil.FakeAccountStore
}

func newGatewayFixture() *gatewayFixture {
	registry := infrastructure.NewSessionRegistry()
	accounts := testutil.NewFakeAccountStore()
	factory := testutil.NewFakeFactory()
	sessions := infrastructure.NewSessionManager(registry, accounts, factory, zerolog.Nop())
	return &gatewayFixture{
		gw:       usecases.NewGatewayUsecase(sessions, accounts, gwAPIID, gwAPIHash, zerolog.Nop()),
		registry: registry,
		factory:  factory,
		accounts: accounts,
	}
}

// connect installs an authorized handle plus its credential row, as a
// completed login would have left them.
func (f *gatewayFixture) connect(t *testing.T, handle *testutil.FakeTransport, owners ...string) {
	t.Helper()
	f.registry.PutActive(gwPhone, handle)
	f.factory.Artifacts[gwPhone] = true
	require.NoError(t, f.accounts.Upsert(context.Background(), &entities.Account{
		Phone: gwPhone, APIID: gwAPIID, APIHash: gwAPIHash,
	}))
	for _, owner := range owners {
		_, err := f.accounts.LinkOwner(context.Background(), gwPhone, owner)
		require.NoError(t, err)
	}
}

func TestLoginFlowPersistsAndLinks(t *testing.T) {
	f := newGatewayFixture()
	f.factory.Next[gwPhone] = &testutil.FakeTransport{DisplayName: "Alice"}

	res, err := f.gw.StartLogin(context.Background(), gwUser, gwPhone)
	require.NoError(t, err)
	assert.Equal(t, infrastructure.StatusCodeSent, res.Status)
	assert.True(t, f.accounts.Has(gwPhone), "credentials persist as soon as the code is requested")
	assert.Equal(t, 1, f.accounts.LinkCount(gwPhone))

	res, err = f.gw.CompleteLogin(context.Background(), gwUser, gwPhone, "12345")
	require.NoError(t, err)
	assert.Equal(t, infrastructure.StatusSuccess, res.Status)

	phones, err := f.gw.ListAccounts(context.Background(), gwUser)
	require.NoError(t, err)
	assert.Equal(t, []string{gwPhone}, phones)
}

func TestCompleteLoginOnRestoredHandleKeepsCredentials(t *testing.T) {
	f := newGatewayFixture()
	// An active handle from startup restore: the credential row exists but
	// no StartLogin captured api credentials in this process.
	f.connect(t, &testutil.FakeTransport{Authorized: true, DisplayName: "Alice"}, gwUser)

	res, err := f.gw.CompleteLogin(context.Background(), gwUser, gwPhone, "12345")
	require.NoError(t, err)
	assert.Equal(t, infrastructure.StatusSuccess, res.Status)

	acct, ok := f.accounts.Account(gwPhone)
	require.True(t, ok)
	assert.Equal(t, gwAPIID, acct.APIID, "stored credentials must survive a re-verification")
	assert.Equal(t, gwAPIHash, acct.APIHash)
}

func TestSendMessage(t *testing.T) {
	f := newGatewayFixture()
	handle := &testutil.FakeTransport{Authorized: true}
	f.connect(t, handle, gwUser)

	err := f.gw.SendMessage(context.Background(), gwUser, gwPhone, "@bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"@bob"}, handle.SentTo)
}

func TestAccountNotConnected(t *testing.T) {
	f := newGatewayFixture()
	require.NoError(t, f.accounts.Upsert(context.Background(), &entities.Account{
		Phone: gwPhone, APIID: gwAPIID, APIHash: gwAPIHash,
	}))
	_, err := f.accounts.LinkOwner(context.Background(), gwPhone, gwUser)
	require.NoError(t, err)

	err = f.gw.SendMessage(context.Background(), gwUser, gwPhone, "@bob", "hi")
	assert.ErrorIs(t, err, entities.ErrAccountNotConnected)
}

func TestAccessDeniedForUnknownAccount(t *testing.T) {
	f := newGatewayFixture()
	// A handle exists but no credential row was ever written, so nobody can
	// claim it.
	f.registry.PutActive(gwPhone, &testutil.FakeTransport{Authorized: true})

	_, err := f.gw.GetChats(context.Background(), gwUser, gwPhone)
	assert.ErrorIs(t, err, entities.ErrAccessDenied)
}

func TestFirstTouchClaimsUnlinkedAccount(t *testing.T) {
	f := newGatewayFixture()
	f.connect(t, &testutil.FakeTransport{Authorized: true})
	require.Equal(t, 0, f.accounts.LinkCount(gwPhone))

	_, err := f.gw.GetChats(context.Background(), gwUser, gwPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, f.accounts.LinkCount(gwPhone), "caller becomes an owner on first touch")

	phones, err := f.gw.ListAccounts(context.Background(), gwUser)
	require.NoError(t, err)
	assert.Equal(t, []string{gwPhone}, phones)
}

func TestRevokedAuthorizationInvalidatesSession(t *testing.T) {
	f := newGatewayFixture()
	handle := &testutil.FakeTransport{Authorized: true, DialogsErr: entities.ErrAuthRevoked}
	f.connect(t, handle, gwUser)

	_, err := f.gw.GetChats(context.Background(), gwUser, gwPhone)
	require.ErrorIs(t, err, entities.ErrAuthRevoked)

	assert.True(t, handle.IsDisconnected())
	assert.False(t, f.factory.HasArtifact(gwPhone))
	assert.False(t, f.accounts.Has(gwPhone))

	phones, err := f.gw.ListAccounts(context.Background(), gwUser)
	require.NoError(t, err)
	assert.Empty(t, phones)
}

func TestGetMessages(t *testing.T) {
	f := newGatewayFixture()
	handle := &testutil.FakeTransport{
		Authorized: true,
		Messages: []entities.ChatMessage{
			{ID: 7, Text: "hello", Date: "2026-08-29T10:00:00Z", SenderID: 42},
		},
	}
	f.connect(t, handle, gwUser)

	msgs, err := f.gw.GetMessages(context.Background(), gwUser, gwPhone, 42, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}
