package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // pure Go sqlite driver for the device store

	"telegate/internal/entities"
	"telegate/internal/interfaces"
)

// pairWait bounds how long CompleteLogin waits for the user to type the
// pairing code into their phone.
const pairWait = 90 * time.Second

// WhatsAppFactory opens whatsmeow transports. The session artifact is a
// per-phone sqlite device store. WhatsApp reverses the code flow relative
// to Telegram: SendCode returns a pairing code the account owner types into
// their device, and SignIn just waits for that pairing to land.
type WhatsAppFactory struct {
	dir string
	log zerolog.Logger
}

func NewWhatsAppFactory(dir string, log zerolog.Logger) (*WhatsAppFactory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &WhatsAppFactory{dir: dir, log: log.With().Str("component", "whatsapp").Logger()}, nil
}

func (f *WhatsAppFactory) artifactPath(phone string) string {
	return filepath.Join(f.dir, phone+".db")
}

func (f *WhatsAppFactory) HasArtifact(phone string) bool {
	_, err := os.Stat(f.artifactPath(phone))
	return err == nil
}

func (f *WhatsAppFactory) RemoveArtifact(phone string) error {
	err := os.Remove(f.artifactPath(phone))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *WhatsAppFactory) Open(ctx context.Context, phone string, apiID int, apiHash string) (interfaces.Transport, error) {
	container, err := sqlstore.New(ctx, "sqlite", "file:"+f.artifactPath(phone)+"?_pragma=foreign_keys(1)", waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Noop)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrConnection, err)
	}
	return &whatsappTransport{
		client: client,
		log:    f.log.With().Str("phone", phone).Logger(),
	}, nil
}

type whatsappTransport struct {
	client *whatsmeow.Client
	log    zerolog.Logger
}

func (t *whatsappTransport) SendCode(ctx context.Context, phone string) (string, error) {
	if t.client.Store.ID != nil {
		// Device already paired; nothing to request.
		return "", nil
	}
	code, err := t.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("%w: %v", entities.ErrConnection, err)
	}
	return code, nil
}

func (t *whatsappTransport) SignIn(ctx context.Context, phone, code string) (string, error) {
	// Pairing completes on the user's device, not here: poll until the
	// store holds an identity or the wait runs out.
	deadline := time.Now().Add(pairWait)
	for time.Now().Before(deadline) {
		if t.client.Store.ID != nil && t.client.IsLoggedIn() {
			return t.client.Store.PushName, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return "", fmt.Errorf("%w: pairing not confirmed on device", entities.ErrVerificationFailed)
}

func (t *whatsappTransport) IsAuthorized(ctx context.Context) (bool, error) {
	return t.client.Store.ID != nil, nil
}

func (t *whatsappTransport) Dialogs(ctx context.Context) ([]entities.Chat, error) {
	return nil, fmt.Errorf("%w: chat listing on WhatsApp", entities.ErrUnsupported)
}

func (t *whatsappTransport) History(ctx context.Context, chatID int64, limit int) ([]entities.ChatMessage, error) {
	return nil, fmt.Errorf("%w: chat history on WhatsApp", entities.ErrUnsupported)
}

func (t *whatsappTransport) SendMessage(ctx context.Context, recipient, text string) error {
	jid, err := types.ParseJID(recipient + "@s.whatsapp.net")
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	_, err = t.client.SendMessage(ctx, jid, &waProto.Message{Conversation: &text})
	if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("%w: %v", entities.ErrAuthRevoked, err)
	}
	return err
}

func (t *whatsappTransport) Logout(ctx context.Context) error {
	return t.client.Logout(ctx)
}

func (t *whatsappTransport) Disconnect() error {
	t.client.Disconnect()
	return nil
}
