package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Intent is a simulated payment awaiting confirmation.
type Intent struct {
	ID         string           `json:"id"`
	Request    Request          `json:"request"`
	Simulation SimulationResult `json:"simulation"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// IntentStore keeps intents until they expire.
type IntentStore interface {
	Save(ctx context.Context, intent Intent, ttl time.Duration) error
	Get(ctx context.Context, id string) (Intent, error)
}

// CreateIntent validates and simulates a payment and stores it for later
// confirmation. The stored request has its currency resolved and no
// idempotency key; confirmation derives one from the intent id.
func (s *Service) CreateIntent(ctx context.Context, req Request) (Intent, error) {
	p, err := validate(req)
	if err != nil {
		return Intent{}, err
	}
	w, err := s.wallets.Get(ctx, p.walletID)
	if err != nil {
		return Intent{}, err
	}
	if p, err = p.bind(w); err != nil {
		return Intent{}, err
	}
	sim, err := s.simulate(ctx, p, w.Balance)
	if err != nil {
		return Intent{}, err
	}

	now := s.now().UTC()
	intent := Intent{
		ID: uuid.New().String(),
		Request: Request{
			WalletID:    p.walletID,
			Recipient:   p.recipient,
			Amount:      p.amount.String(),
			Currency:    p.currency,
			Description: p.description,
			Metadata:    p.metadata,
		},
		Simulation: sim,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.intentTTL),
	}
	if err := s.intents.Save(ctx, intent, s.intentTTL); err != nil {
		return Intent{}, fmt.Errorf("save payment intent: %w", err)
	}
	return intent, nil
}

// ConfirmIntent pays a stored intent. Confirming the same intent again
// replays the first outcome.
func (s *Service) ConfirmIntent(ctx context.Context, id string) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Result{}, ErrIntentNotFound
	}
	intent, err := s.intents.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !intent.ExpiresAt.IsZero() && s.now().After(intent.ExpiresAt) {
		return Result{}, ErrIntentNotFound
	}
	req := intent.Request
	req.IdempotencyKey = "intent:" + intent.ID
	return s.Pay(ctx, req)
}

// MemoryIntentStore keeps intents in process memory.
type MemoryIntentStore struct {
	mu      sync.Mutex
	intents map[string]memoryIntent
	now     func() time.Time
}

type memoryIntent struct {
	intent  Intent
	expires time.Time
}

// NewMemoryIntentStore constructs an in-memory intent store.
func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{intents: make(map[string]memoryIntent), now: time.Now}
}

// Save implements IntentStore.
func (m *MemoryIntentStore) Save(_ context.Context, intent Intent, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, it := range m.intents {
		if now.After(it.expires) {
			delete(m.intents, id)
		}
	}
	m.intents[intent.ID] = memoryIntent{intent: intent, expires: now.Add(ttl)}
	return nil
}

// Get implements IntentStore.
func (m *MemoryIntentStore) Get(_ context.Context, id string) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.intents[id]
	if !ok || m.now().After(it.expires) {
		return Intent{}, ErrIntentNotFound
	}
	return it.intent, nil
}

const intentPrefix = "payments:intent:v1:"

// RedisIntentStore keeps intents in Redis as JSON with a TTL.
type RedisIntentStore struct {
	client *redis.Client
}

// NewRedisIntentStore builds a Redis-backed intent store.
func NewRedisIntentStore(client *redis.Client) *RedisIntentStore {
	return &RedisIntentStore{client: client}
}

// Save implements IntentStore.
func (r *RedisIntentStore) Save(ctx context.Context, intent Intent, ttl time.Duration) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	return r.client.Set(ctx, intentPrefix+intent.ID, payload, ttl).Err()
}

// Get implements IntentStore.
func (r *RedisIntentStore) Get(ctx context.Context, id string) (Intent, error) {
	raw, err := r.client.Get(ctx, intentPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Intent{}, ErrIntentNotFound
	}
	if err != nil {
		return Intent{}, fmt.Errorf("load intent: %w", err)
	}
	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return intent, nil
}
