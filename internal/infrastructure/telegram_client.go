package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"telegate/internal/entities"
	"telegate/internal/interfaces"
)

// Channel dialog ids are marked the way Telegram clients conventionally do
// it, so user, group and channel ids never collide.
const channelIDOffset = int64(1000000000000)

// dialogFetchLimit bounds a single dialog page. Nothing in the gateway
// paginates beyond it.
const dialogFetchLimit = 100

// TelegramFactory opens MTProto user-session transports. Each phone gets
// one session artifact file under dir.
type TelegramFactory struct {
	dir string
	log zerolog.Logger
}

func NewTelegramFactory(dir string, log zerolog.Logger) (*TelegramFactory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &TelegramFactory{dir: dir, log: log.With().Str("component", "telegram").Logger()}, nil
}

func (f *TelegramFactory) artifactPath(phone string) string {
	return filepath.Join(f.dir, phone+".session")
}

func (f *TelegramFactory) HasArtifact(phone string) bool {
	_, err := os.Stat(f.artifactPath(phone))
	return err == nil
}

func (f *TelegramFactory) RemoveArtifact(phone string) error {
	err := os.Remove(f.artifactPath(phone))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *TelegramFactory) Open(ctx context.Context, phone string, apiID int, apiHash string) (interfaces.Transport, error) {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: f.artifactPath(phone)},
	})
	stop, err := bg.Connect(client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrConnection, err)
	}
	return &telegramTransport{
		client: client,
		stop:   stop,
		log:    f.log.With().Str("phone", phone).Logger(),
	}, nil
}

// telegramTransport is one live MTProto connection. The gotd client runs in
// a background goroutine until stop is called. The login-flow fields are
// not guarded: operations on a single phone are never concurrent.
type telegramTransport struct {
	client   *telegram.Client
	stop     bg.StopFunc
	log      zerolog.Logger
	codeHash string
}

// classifyTelegram maps raw MTProto errors onto the gateway taxonomy.
func classifyTelegram(err error) error {
	switch {
	case err == nil:
		return nil
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "AUTH_KEY_INVALID", "SESSION_REVOKED", "SESSION_EXPIRED", "USER_DEACTIVATED"):
		return fmt.Errorf("%w: %v", entities.ErrAuthRevoked, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED", "PHONE_CODE_EMPTY"):
		return fmt.Errorf("%w: %v", entities.ErrVerificationFailed, err)
	default:
		return err
	}
}

func (t *telegramTransport) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := t.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", classifyTelegram(err)
	}
	if code, ok := sent.(*tg.AuthSentCode); ok {
		t.codeHash = code.PhoneCodeHash
	}
	// Telegram delivers the code in-app, there is nothing to show the user.
	return "", nil
}

func (t *telegramTransport) SignIn(ctx context.Context, phone, code string) (string, error) {
	if _, err := t.client.Auth().SignIn(ctx, phone, code, t.codeHash); err != nil {
		return "", classifyTelegram(err)
	}
	self, err := t.client.Self(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("fetching own profile after sign in failed")
		return "", nil
	}
	return self.FirstName, nil
}

func (t *telegramTransport) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := t.client.Auth().Status(ctx)
	if err != nil {
		return false, classifyTelegram(err)
	}
	return status.Authorized, nil
}

func (t *telegramTransport) Dialogs(ctx context.Context) ([]entities.Chat, error) {
	dialogs, chats, users, err := t.fetchDialogs(ctx)
	if err != nil {
		return nil, err
	}

	names := peerNames(chats, users)
	out := make([]entities.Chat, 0, len(dialogs))
	for _, d := range dialogs {
		dlg, ok := d.(*tg.Dialog)
		if !ok {
			continue
		}
		id := markedPeerID(dlg.Peer)
		out = append(out, entities.Chat{
			ID:          id,
			Name:        names[id],
			UnreadCount: dlg.UnreadCount,
		})
	}
	return out, nil
}

func (t *telegramTransport) History(ctx context.Context, chatID int64, limit int) ([]entities.ChatMessage, error) {
	peer, err := t.resolvePeer(ctx, chatID)
	if err != nil {
		return nil, err
	}
	raw, err := t.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, classifyTelegram(err)
	}
	msgs, err := splitMessages(raw)
	if err != nil {
		return nil, err
	}

	// History arrives newest first; callers expect chronological order.
	out := make([]entities.ChatMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m, ok := msgs[i].(*tg.Message)
		if !ok {
			continue
		}
		cm := entities.ChatMessage{
			ID:   m.ID,
			Text: m.Message,
			Date: time.Unix(int64(m.Date), 0).UTC().Format(time.RFC3339),
			Out:  m.Out,
		}
		if from, ok := m.GetFromID(); ok {
			cm.SenderID = markedPeerID(from)
		}
		if reply, ok := m.GetReplyTo(); ok {
			if hdr, ok := reply.(*tg.MessageReplyHeader); ok {
				cm.ReplyToMsgID = hdr.ReplyToMsgID
			}
		}
		out = append(out, cm)
	}
	return out, nil
}

func (t *telegramTransport) SendMessage(ctx context.Context, recipient, text string) error {
	sender := message.NewSender(t.client.API())
	if _, err := sender.Resolve(recipient).Text(ctx, text); err != nil {
		return classifyTelegram(err)
	}
	return nil
}

func (t *telegramTransport) Logout(ctx context.Context) error {
	if _, err := t.client.API().AuthLogOut(ctx); err != nil {
		return classifyTelegram(err)
	}
	return nil
}

func (t *telegramTransport) Disconnect() error {
	return t.stop()
}

func (t *telegramTransport) fetchDialogs(ctx context.Context) ([]tg.DialogClass, []tg.ChatClass, []tg.UserClass, error) {
	raw, err := t.client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogFetchLimit,
	})
	if err != nil {
		return nil, nil, nil, classifyTelegram(err)
	}
	switch v := raw.(type) {
	case *tg.MessagesDialogs:
		return v.Dialogs, v.Chats, v.Users, nil
	case *tg.MessagesDialogsSlice:
		return v.Dialogs, v.Chats, v.Users, nil
	default:
		return nil, nil, nil, fmt.Errorf("unexpected dialogs result %T", raw)
	}
}

// resolvePeer turns a marked dialog id back into an input peer, using the
// access hashes from the current dialog list.
func (t *telegramTransport) resolvePeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	_, chats, users, err := t.fetchDialogs(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		usr, ok := u.(*tg.User)
		if !ok {
			continue
		}
		if usr.ID == chatID {
			return &tg.InputPeerUser{UserID: usr.ID, AccessHash: usr.AccessHash}, nil
		}
	}
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			if -v.ID == chatID {
				return &tg.InputPeerChat{ChatID: v.ID}, nil
			}
		case *tg.Channel:
			if -channelIDOffset-v.ID == chatID {
				return &tg.InputPeerChannel{ChannelID: v.ID, AccessHash: v.AccessHash}, nil
			}
		}
	}
	return nil, fmt.Errorf("chat %d not found", chatID)
}

func splitMessages(raw tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch v := raw.(type) {
	case *tg.MessagesMessages:
		return v.Messages, nil
	case *tg.MessagesMessagesSlice:
		return v.Messages, nil
	case *tg.MessagesChannelMessages:
		return v.Messages, nil
	default:
		return nil, fmt.Errorf("unexpected history result %T", raw)
	}
}

func markedPeerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return -v.ChatID
	case *tg.PeerChannel:
		return -channelIDOffset - v.ChannelID
	}
	return 0
}

func peerNames(chats []tg.ChatClass, users []tg.UserClass) map[int64]string {
	names := make(map[int64]string, len(chats)+len(users))
	for _, u := range users {
		usr, ok := u.(*tg.User)
		if !ok {
			continue
		}
		name := strings.TrimSpace(usr.FirstName + " " + usr.LastName)
		if name == "" {
			name = usr.Username
		}
		names[usr.ID] = name
	}
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			names[-v.ID] = v.Title
		case *tg.Channel:
			names[-channelIDOffset-v.ID] = v.Title
		}
	}
	return names
}
