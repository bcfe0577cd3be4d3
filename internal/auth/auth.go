// Package auth manages API keys for the HTTP API. Keys are stored in Redis
// as SHA-256 hashes; the plaintext is shown once, at creation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix starts every plaintext key.
const KeyPrefix = "lxv_sk_"

const (
	keyPrefix = "lexveil:apikey:"
	indexKey  = "lexveil:apikeys"
)

var (
	ErrInvalidKey = errors.New("invalid API key")
	ErrRevoked    = errors.New("API key is revoked")
	ErrNotFound   = errors.New("API key not found")
)

// Role determines the key's access level
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q (must be admin, operator or viewer)", s)
}

// Action is something a key may be allowed to do
type Action string

const (
	ActionDetect        Action = "detect"
	ActionProcess       Action = "process"
	ActionReadHistory   Action = "history:read"
	ActionDeleteHistory Action = "history:delete"
)

var permissions = map[Role][]Action{
	RoleViewer:   {ActionDetect, ActionReadHistory},
	RoleOperator: {ActionDetect, ActionProcess, ActionReadHistory},
	RoleAdmin:    {ActionDetect, ActionProcess, ActionReadHistory, ActionDeleteHistory},
}

// Allows reports whether role may perform action.
func (r Role) Allows(action Action) bool {
	for _, a := range permissions[r] {
		if a == action {
			return true
		}
	}
	return false
}

// APIKey represents a registered API key with its metadata
type APIKey struct {
	ID        string    `json:"id"`
	KeyHash   string    `json:"-"` // SHA-256 hash, never store plaintext
	Role      Role      `json:"role"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Manager handles API key operations
type Manager struct {
	client *redis.Client
	logger *slog.Logger
}

// NewManager creates an auth Manager
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client, logger: slog.Default()}
}

// SetLogger sets the logger used for rejected requests.
func (m *Manager) SetLogger(l *slog.Logger) {
	m.logger = l
}

// GenerateKey creates a new API key and stores its hash in Redis.
// Returns the plaintext key (show once to user) and the APIKey metadata.
func (m *Manager) GenerateKey(ctx context.Context, role Role, label string) (string, *APIKey, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return "", nil, err
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate random: %w", err)
	}
	plaintext := KeyPrefix + hex.EncodeToString(raw)

	hash := hashKey(plaintext)
	key := &APIKey{
		ID:        hash[:12],
		KeyHash:   hash,
		Role:      role,
		Label:     label,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, keyPrefix+hash,
		"id", key.ID,
		"role", string(key.Role),
		"label", key.Label,
		"created_at", key.CreatedAt.Format(time.RFC3339),
		"active", "true",
	)
	pipe.SAdd(ctx, indexKey, hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nil, fmt.Errorf("store key: %w", err)
	}

	return plaintext, key, nil
}

// Validate checks a plaintext API key and returns its metadata if valid
func (m *Manager) Validate(ctx context.Context, plaintext string) (*APIKey, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return nil, ErrInvalidKey
	}
	key, err := m.load(ctx, hashKey(plaintext))
	if err != nil {
		return nil, err
	}
	if !key.Active {
		return nil, ErrRevoked
	}
	return key, nil
}

func (m *Manager) load(ctx context.Context, hash string) (*APIKey, error) {
	data, err := m.client.HGetAll(ctx, keyPrefix+hash).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrInvalidKey
	}

	createdAt, _ := time.Parse(time.RFC3339, data["created_at"])
	return &APIKey{
		ID:        data["id"],
		KeyHash:   hash,
		Role:      Role(data["role"]),
		Label:     data["label"],
		CreatedAt: createdAt,
		Active:    data["active"] == "true",
	}, nil
}

// List returns every registered key, oldest first.
func (m *Manager) List(ctx context.Context) ([]APIKey, error) {
	hashes, err := m.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]APIKey, 0, len(hashes))
	for _, h := range hashes {
		k, err := m.load(ctx, h)
		if errors.Is(err, ErrInvalidKey) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

// Revoke deactivates an API key by its plaintext
func (m *Manager) Revoke(ctx context.Context, plaintext string) error {
	return m.revokeHash(ctx, hashKey(plaintext))
}

// RevokeByID deactivates an API key by its ID
func (m *Manager) RevokeByID(ctx context.Context, id string) error {
	hashes, err := m.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if len(h) >= 12 && h[:12] == id {
			return m.revokeHash(ctx, h)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (m *Manager) revokeHash(ctx context.Context, hash string) error {
	n, err := m.client.Exists(ctx, keyPrefix+hash).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return m.client.HSet(ctx, keyPrefix+hash, "active", "false").Err()
}

func hashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
