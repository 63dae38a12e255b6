package interfaces

import (
	"context"

	"telegate/internal/entities"
)

// Transport is an open, stateful connection to the remote messaging
// platform for one phone number. Implementations translate raw platform
// failures into the entities error taxonomy.
type Transport interface {
	// SendCode asks the platform to issue a verification code. The hint is
	// platform-specific: a pairing code for WhatsApp, empty for Telegram
	// where the code arrives inside the app.
	SendCode(ctx context.Context, phone string) (hint string, err error)

	// SignIn submits the verification code and returns the account's
	// display name, or "" when the remote profile has none.
	SignIn(ctx context.Context, phone, code string) (string, error)

	IsAuthorized(ctx context.Context) (bool, error)
	Dialogs(ctx context.Context) ([]entities.Chat, error)
	History(ctx context.Context, chatID int64, limit int) ([]entities.ChatMessage, error)
	SendMessage(ctx context.Context, recipient, text string) error
	Logout(ctx context.Context) error
	Disconnect() error
}

// TransportFactory opens transports and owns the on-disk session artifacts
// they leave behind. Artifact files are keyed by phone number.
type TransportFactory interface {
	// Open connects a transport for phone, reusing the session artifact on
	// disk when one exists.
	Open(ctx context.Context, phone string, apiID int, apiHash string) (Transport, error)

	HasArtifact(phone string) bool
	RemoveArtifact(phone string) error
}

// AccountStore persists per-phone connection credentials and the
// many-to-many ownership links between users and phones.
type AccountStore interface {
	// Upsert inserts or updates the credential row, never erroring on a
	// duplicate phone.
	Upsert(ctx context.Context, account *entities.Account) error

	// List returns all accounts when ownerID is empty, otherwise the
	// accounts linked to that owner.
	List(ctx context.Context, ownerID string) ([]entities.Account, error)

	// LinkOwner is idempotent and reports whether a new link was created.
	LinkOwner(ctx context.Context, phone, ownerID string) (bool, error)

	IsOwner(ctx context.Context, phone, ownerID string) (bool, error)
	Exists(ctx context.Context, phone string) (bool, error)

	// Delete removes the credential row. Ownership links may be left
	// dangling; lookups tolerate them.
	Delete(ctx context.Context, phone string) error
}

// UserStore persists registered gateway users. Lookups return (nil, nil)
// when no row matches.
type UserStore interface {
	// Create inserts the user, returning (nil, nil) when the username or
	// email is already taken.
	Create(ctx context.Context, user *entities.User) (*entities.User, error)

	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
	GetByID(ctx context.Context, id string) (*entities.User, error)
}
