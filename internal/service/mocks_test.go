package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/provider"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// mockUserRepository implements repository.UserRepository for testing.
type mockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*models.User)}
}

func (m *mockUserRepository) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return fmt.Errorf("UNIQUE constraint failed: users.id")
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, nil
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepository) UpdateProfile(ctx context.Context, id, email, displayName, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		user.Email = email
		user.DisplayName = displayName
		user.Tier = tier
	}
	return nil
}

func (m *mockUserRepository) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// mockGenerationRepository implements repository.GenerationRepository for
// testing. When users is set, Settle applies the clamped balance debit the
// way the real repository does.
type mockGenerationRepository struct {
	mu     sync.RWMutex
	gens   map[string]*models.Generation
	events []*models.UsageEvent
	users  *mockUserRepository
}

func newMockGenerationRepository() *mockGenerationRepository {
	return &mockGenerationRepository{gens: make(map[string]*models.Generation)}
}

func (m *mockGenerationRepository) Create(ctx context.Context, gen *models.Generation, event *models.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[gen.ID] = gen
	if event != nil {
		m.events = append(m.events, event)
	}
	return nil
}

func (m *mockGenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if gen, ok := m.gens[id]; ok {
		return gen, nil
	}
	return nil, nil
}

func (m *mockGenerationRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, gen := range m.gens {
		if gen.ExternalID == externalID {
			return gen, nil
		}
	}
	return nil, nil
}

func (m *mockGenerationRepository) GetByUserID(ctx context.Context, userID string, status models.GenerationStatus, limit, offset int) ([]*models.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.Generation
	for _, gen := range m.gens {
		if gen.UserID == userID && (status == "" || gen.Status == status) {
			result = append(result, gen)
		}
	}
	if offset >= len(result) {
		return []*models.Generation{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockGenerationRepository) List(ctx context.Context, limit, offset int) ([]*models.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.Generation
	for _, gen := range m.gens {
		result = append(result, gen)
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockGenerationRepository) CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.GenerationStatus]int)
	for _, gen := range m.gens {
		counts[gen.Status]++
	}
	return counts, nil
}

func (m *mockGenerationRepository) ClaimPending(ctx context.Context) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*models.Generation
	for _, gen := range m.gens {
		if gen.Status == models.GenerationStatusPending {
			pending = append(pending, gen)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	gen := pending[0]
	now := time.Now().UTC()
	gen.Status = models.GenerationStatusProcessing
	gen.StartedAt = &now
	return gen, nil
}

func (m *mockGenerationRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen, ok := m.gens[id]; ok {
		gen.ExternalID = externalID
	}
	return nil
}

func (m *mockGenerationRepository) Settle(ctx context.Context, p repository.SettleParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.gens[p.GenerationID]
	if !ok {
		return false, nil
	}
	guarded := false
	for _, from := range p.FromStatuses {
		if gen.Status == from {
			guarded = true
			break
		}
	}
	if !guarded {
		return false, nil
	}

	now := time.Now().UTC()
	gen.Status = p.ToStatus
	gen.TokensUsed = p.TokensUsed
	gen.ErrorMessage = p.ErrorMessage
	gen.OutputKeys = p.OutputKeys
	gen.PredictTime = p.PredictTime
	gen.CompletedAt = &now
	gen.UpdatedAt = now

	if m.users != nil && p.DebitTokens > 0 {
		m.users.mu.Lock()
		if user, ok := m.users.users[gen.UserID]; ok {
			user.TokenBalance -= p.DebitTokens
			if user.TokenBalance < 0 {
				user.TokenBalance = 0
			}
			user.TotalTokensUsed += p.TokensUsed
		}
		m.users.mu.Unlock()
	}

	if p.Event != nil {
		m.events = append(m.events, p.Event)
	}
	return true, nil
}

func (m *mockGenerationRepository) Requeue(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.gens[id]
	if !ok || gen.Status != models.GenerationStatusFailed || gen.RetryCount >= models.MaxRetryCount {
		return false, nil
	}
	gen.Status = models.GenerationStatusPending
	gen.RetryCount++
	gen.ErrorMessage = ""
	gen.ExternalID = ""
	gen.CompletedAt = nil
	gen.UpdatedAt = time.Now().UTC()
	m.events = append(m.events, &models.UsageEvent{
		UserID:       gen.UserID,
		Action:       models.ActionGenerationStarted,
		Model:        gen.Model,
		GenerationID: &gen.ID,
		CreatedAt:    time.Now().UTC(),
	})
	return true, nil
}

func (m *mockGenerationRepository) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[id]; !ok {
		return false, nil
	}
	delete(m.gens, id)
	return true, nil
}

func (m *mockGenerationRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.Generation
	for _, gen := range m.gens {
		if gen.Status == models.GenerationStatusProcessing && gen.StartedAt != nil && gen.StartedAt.Before(cutoff) {
			result = append(result, gen)
		}
	}
	return result, nil
}

func (m *mockGenerationRepository) lastEvent(action models.UsageAction) *models.UsageEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Action == action {
			return m.events[i]
		}
	}
	return nil
}

func (m *mockGenerationRepository) eventCount(action models.UsageAction) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, ev := range m.events {
		if ev.Action == action {
			count++
		}
	}
	return count
}

// mockUsageEventRepository implements repository.UsageEventRepository.
type mockUsageEventRepository struct {
	mu     sync.RWMutex
	events []*models.UsageEvent
}

func newMockUsageEventRepository() *mockUsageEventRepository {
	return &mockUsageEventRepository{}
}

func (m *mockUsageEventRepository) Create(ctx context.Context, event *models.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockUsageEventRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.UsageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.UsageEvent
	for _, ev := range m.events {
		if ev.UserID == userID {
			result = append(result, ev)
		}
	}
	if offset >= len(result) {
		return []*models.UsageEvent{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockUsageEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*models.UsageEvent
	var deleted int64
	for _, ev := range m.events {
		if ev.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return deleted, nil
}

// mockTokenPurchaseRepository implements repository.TokenPurchaseRepository.
// Mirrors the real one: a duplicate stripe payment ID fails before any
// balance moves.
type mockTokenPurchaseRepository struct {
	mu        sync.RWMutex
	purchases map[string]*models.TokenPurchase
	users     *mockUserRepository
}

func newMockTokenPurchaseRepository(users *mockUserRepository) *mockTokenPurchaseRepository {
	return &mockTokenPurchaseRepository{
		purchases: make(map[string]*models.TokenPurchase),
		users:     users,
	}
}

func (m *mockTokenPurchaseRepository) CreateAndCredit(ctx context.Context, purchase *models.TokenPurchase) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if purchase.StripePaymentID != nil {
		for _, existing := range m.purchases {
			if existing.StripePaymentID != nil && *existing.StripePaymentID == *purchase.StripePaymentID {
				return 0, fmt.Errorf("UNIQUE constraint failed: token_purchases.stripe_payment_id")
			}
		}
	}

	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	user, ok := m.users.users[purchase.UserID]
	if !ok {
		return 0, fmt.Errorf("user not found: %s", purchase.UserID)
	}
	user.TokenBalance += purchase.Tokens
	if purchase.Tokens > 0 {
		user.TotalTokensPurchased += purchase.Tokens
	}
	purchase.BalanceAfter = user.TokenBalance
	m.purchases[purchase.ID] = purchase
	return user.TokenBalance, nil
}

func (m *mockTokenPurchaseRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.TokenPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.TokenPurchase
	for _, p := range m.purchases {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockTokenPurchaseRepository) GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*models.TokenPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.purchases {
		if p.StripePaymentID != nil && *p.StripePaymentID == stripePaymentID {
			return p, nil
		}
	}
	return nil, nil
}

// mockFileMetadataRepository implements repository.FileMetadataRepository.
type mockFileMetadataRepository struct {
	mu    sync.RWMutex
	files map[string]*models.FileMetadata
}

func newMockFileMetadataRepository() *mockFileMetadataRepository {
	return &mockFileMetadataRepository{files: make(map[string]*models.FileMetadata)}
}

func (m *mockFileMetadataRepository) Create(ctx context.Context, file *models.FileMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ID] = file
	return nil
}

func (m *mockFileMetadataRepository) GetByID(ctx context.Context, id string) (*models.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.files[id]; ok && f.DeletedAt == nil {
		return f, nil
	}
	return nil, nil
}

func (m *mockFileMetadataRepository) GetByObjectKey(ctx context.Context, key string) (*models.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.files {
		if f.ObjectKey == key && f.DeletedAt == nil {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFileMetadataRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.FileMetadata
	for _, f := range m.files {
		if f.UserID == userID && f.DeletedAt == nil {
			result = append(result, f)
		}
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockFileMetadataRepository) GetByGenerationID(ctx context.Context, generationID string) ([]*models.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.FileMetadata
	for _, f := range m.files {
		if f.GenerationID != nil && *f.GenerationID == generationID && f.DeletedAt == nil {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockFileMetadataRepository) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		now := time.Now().UTC()
		f.DeletedAt = &now
	}
	return nil
}

// mockProviderCredentialRepository implements repository.ProviderCredentialRepository.
type mockProviderCredentialRepository struct {
	mu    sync.RWMutex
	creds map[string]*models.ProviderCredential
}

func newMockProviderCredentialRepository() *mockProviderCredentialRepository {
	return &mockProviderCredentialRepository{creds: make(map[string]*models.ProviderCredential)}
}

func (m *mockProviderCredentialRepository) Upsert(ctx context.Context, cred *models.ProviderCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.Provider] = cred
	return nil
}

func (m *mockProviderCredentialRepository) GetByProvider(ctx context.Context, providerName string) (*models.ProviderCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cred, ok := m.creds[providerName]; ok {
		return cred, nil
	}
	return nil, nil
}

func (m *mockProviderCredentialRepository) GetAll(ctx context.Context) ([]*models.ProviderCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.ProviderCredential
	for _, cred := range m.creds {
		result = append(result, cred)
	}
	return result, nil
}

// mockProviderClient implements provider.Client for testing.
type mockProviderClient struct {
	mu          sync.Mutex
	created     []provider.CreatePredictionRequest
	cancelled   []string
	createErr   error
	cancelErr   error
	nextID      string
}

func newMockProviderClient() *mockProviderClient {
	return &mockProviderClient{nextID: "pred_mock"}
}

func (m *mockProviderClient) CreatePrediction(ctx context.Context, req provider.CreatePredictionRequest) (*provider.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &provider.Prediction{ID: m.nextID, Status: "starting"}, nil
}

func (m *mockProviderClient) GetPrediction(ctx context.Context, externalID string) (*provider.Prediction, error) {
	return &provider.Prediction{ID: externalID, Status: "processing"}, nil
}

func (m *mockProviderClient) CancelPrediction(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, externalID)
	return nil
}

// newTestRepositories wires the mocks into a Repositories value the way the
// services expect, sharing the user map so Settle debits are visible.
func newTestRepositories() (*repository.Repositories, *mockUserRepository, *mockGenerationRepository, *mockUsageEventRepository) {
	users := newMockUserRepository()
	gens := newMockGenerationRepository()
	gens.users = users
	events := newMockUsageEventRepository()

	repos := &repository.Repositories{
		User:               users,
		Generation:         gens,
		UsageEvent:         events,
		TokenPurchase:      newMockTokenPurchaseRepository(users),
		FileMetadata:       newMockFileMetadataRepository(),
		ProviderCredential: newMockProviderCredentialRepository(),
	}
	return repos, users, gens, events
}
