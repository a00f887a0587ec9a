// Package session issues and persists the anonymous visitor identity that
// scopes a chat thread, along with the visitor's display name and wishlist.
package session

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	KeySessionID = "chat_session_id"
	KeyUserName  = "chat_user_name"
	KeyWishlist  = "optivision_wishlist"
)

const (
	maxIDLength = 100
	// Ids minted by an early storefront build carry this fragment and are
	// not trusted.
	legacyMarker = "_1767"
	suffixLength = 9
)

// Storage is the durable key/value store a Provider reads and writes:
// cookies for browsers, a file for the terminal client.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

type Provider struct {
	now func() time.Time
}

func NewProvider() *Provider {
	return &Provider{now: time.Now}
}

// Valid reports whether a stored id may be reused.
func Valid(id string) bool {
	return id != "" && len(id) <= maxIDLength && !strings.Contains(id, legacyMarker)
}

// SessionID returns the stored id, replacing a missing or invalid one with
// a freshly generated id.
func (p *Provider) SessionID(st Storage) (string, error) {
	if id, ok := st.Get(KeySessionID); ok {
		if Valid(id) {
			return id, nil
		}
		log.Info().Int("length", len(id)).Msg("discarding invalid session id")
		if err := st.Delete(KeySessionID); err != nil {
			return "", fmt.Errorf("failed to clear session id: %w", err)
		}
	}

	id := p.Generate()
	if err := st.Set(KeySessionID, id); err != nil {
		return "", fmt.Errorf("failed to store session id: %w", err)
	}
	return id, nil
}

// Generate returns "session_<unix-millis>_<9 base-36 chars>".
func (p *Provider) Generate() string {
	return fmt.Sprintf("session_%d_%s", p.now().UnixMilli(), randomSuffix())
}

func randomSuffix() string {
	u := uuid.New()
	s := new(big.Int).SetBytes(u[:]).Text(36)
	if len(s) < suffixLength {
		s = strings.Repeat("0", suffixLength-len(s)) + s
	}
	return s[:suffixLength]
}
