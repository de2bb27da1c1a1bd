package storage

import "time"

// PRD is a generated document owned by one user.
type PRD struct {
	ID           string
	OwnerID      string
	Title        string
	Requirements string
	Platform     string
	Content      string
	CreatedAt    time.Time
}

// APIKey is a sealed provider key. Global keys have an empty OwnerID.
type APIKey struct {
	ID        int64
	OwnerID   string
	KeyType   string
	EncAPIKey string
	KeyHint   string
	IsGlobal  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AccessToken struct {
	TokenHash string
	UserID    string
	IsAdmin   bool
	Label     string
	CreatedAt time.Time
}

type AuditEntry struct {
	ActorID  string
	Action   string
	MetaJSON string
}
