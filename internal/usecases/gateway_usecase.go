package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"telegate/internal/entities"
	"telegate/internal/infrastructure"
	"telegate/internal/interfaces"
)

// GatewayUsecase fronts the session manager for authenticated callers: it
// enforces the ownership policy on every account-scoped operation and
// performs the persistence half of the login two-phase protocol.
type GatewayUsecase struct {
	sessions *infrastructure.SessionManager
	accounts interfaces.AccountStore
	apiID    int
	apiHash  string
	log      zerolog.Logger
}

func NewGatewayUsecase(sessions *infrastructure.SessionManager, accounts interfaces.AccountStore, apiID int, apiHash string, log zerolog.Logger) *GatewayUsecase {
	return &GatewayUsecase{
		sessions: sessions,
		accounts: accounts,
		apiID:    apiID,
		apiHash:  apiHash,
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

func (uc *GatewayUsecase) StartLogin(ctx context.Context, userID, phone string) (*infrastructure.LoginResult, error) {
	res, err := uc.sessions.StartLogin(ctx, phone, uc.apiID, uc.apiHash)
	if err != nil {
		return nil, err
	}
	if err := uc.commit(ctx, userID, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (uc *GatewayUsecase) CompleteLogin(ctx context.Context, userID, phone, code string) (*infrastructure.LoginResult, error) {
	res, err := uc.sessions.CompleteLogin(ctx, phone, code)
	if err != nil {
		return nil, err
	}
	if err := uc.commit(ctx, userID, res); err != nil {
		return nil, err
	}
	return res, nil
}

// commit runs the follow-up persistence a login step demands: upsert the
// account credentials and link the requesting user as an owner.
func (uc *GatewayUsecase) commit(ctx context.Context, userID string, res *infrastructure.LoginResult) error {
	if res.Persist == nil {
		return nil
	}
	acct := &entities.Account{
		Phone:   res.Persist.Phone,
		APIID:   res.Persist.APIID,
		APIHash: res.Persist.APIHash,
	}
	if err := uc.accounts.Upsert(ctx, acct); err != nil {
		return fmt.Errorf("persist account %s: %w", acct.Phone, err)
	}
	if _, err := uc.accounts.LinkOwner(ctx, acct.Phone, userID); err != nil {
		return fmt.Errorf("link account %s to user: %w", acct.Phone, err)
	}
	return nil
}

func (uc *GatewayUsecase) ListAccounts(ctx context.Context, userID string) ([]string, error) {
	accounts, err := uc.accounts.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	phones := make([]string, 0, len(accounts))
	for _, a := range accounts {
		phones = append(phones, a.Phone)
	}
	return phones, nil
}

func (uc *GatewayUsecase) SendMessage(ctx context.Context, userID, phone, recipient, text string) error {
	t, err := uc.activeHandle(ctx, userID, phone)
	if err != nil {
		return err
	}
	return uc.remoteErr(ctx, phone, t.SendMessage(ctx, recipient, text))
}

func (uc *GatewayUsecase) GetChats(ctx context.Context, userID, phone string) ([]entities.Chat, error) {
	t, err := uc.activeHandle(ctx, userID, phone)
	if err != nil {
		return nil, err
	}
	chats, err := t.Dialogs(ctx)
	if err != nil {
		return nil, uc.remoteErr(ctx, phone, err)
	}
	return chats, nil
}

func (uc *GatewayUsecase) GetMessages(ctx context.Context, userID, phone string, chatID int64, limit int) ([]entities.ChatMessage, error) {
	t, err := uc.activeHandle(ctx, userID, phone)
	if err != nil {
		return nil, err
	}
	messages, err := t.History(ctx, chatID, limit)
	if err != nil {
		return nil, uc.remoteErr(ctx, phone, err)
	}
	return messages, nil
}

// activeHandle returns the authorized handle for phone after the ownership
// check. Connectivity is checked first so an unconnected phone reads as
// not-found rather than forbidden.
func (uc *GatewayUsecase) activeHandle(ctx context.Context, userID, phone string) (interfaces.Transport, error) {
	t, ok := uc.sessions.Active(phone)
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrAccountNotConnected, phone)
	}
	if err := uc.authorize(ctx, userID, phone); err != nil {
		return nil, err
	}
	return t, nil
}

// authorize enforces the ownership policy: owners pass, an account nobody
// has claimed yet is auto-linked to the caller on first touch, and a phone
// missing from the credential store is denied outright.
func (uc *GatewayUsecase) authorize(ctx context.Context, userID, phone string) error {
	owned, err := uc.accounts.IsOwner(ctx, phone, userID)
	if err != nil {
		return err
	}
	if owned {
		return nil
	}
	exists, err := uc.accounts.Exists(ctx, phone)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", entities.ErrAccessDenied, phone)
	}

	// First-touch claiming: the account row exists but nobody linked it to
	// this caller, so the caller becomes an owner now.
	uc.log.Warn().Str("phone", phone).Str("user_id", userID).Msg("claiming unowned account")
	_, err = uc.accounts.LinkOwner(ctx, phone, userID)
	return err
}

// remoteErr reacts to a failure from the remote platform: a revoked
// authorization tears the whole session down before the error surfaces.
func (uc *GatewayUsecase) remoteErr(ctx context.Context, phone string, err error) error {
	if errors.Is(err, entities.ErrAuthRevoked) {
		uc.log.Warn().Str("phone", phone).Msg("remote authorization revoked, invalidating session")
		uc.sessions.Invalidate(ctx, phone)
	}
	return err
}
