// Package marketplace owns the service registry: the durable service rows,
// the in-memory view of every live service, and the transactions, ratings
// and audit trail that hang off them.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sudo-init-do/meterhub/internal/address"
	"github.com/sudo-init-do/meterhub/internal/db"
)

const entityService = "service"

type cacheEntry struct {
	svc Service
	seq uint64
}

// Repository is the only component that reads or writes service rows. The
// cache holds exactly the rows whose deleted_at is NULL; it is changed only
// after the backing statement has committed.
type Repository struct {
	db    db.Adapter
	log   zerolog.Logger
	now   func() time.Time
	newID func() string

	// writeMu serializes mutations so read-modify-write on a cached
	// service never interleaves.
	writeMu sync.Mutex

	mu    sync.RWMutex
	cache map[string]cacheEntry
	seq   uint64
}

type Option func(*Repository)

func WithLogger(l zerolog.Logger) Option { return func(r *Repository) { r.log = l } }

func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

func WithIDGenerator(fn func() string) Option { return func(r *Repository) { r.newID = fn } }

func NewRepository(a db.Adapter, opts ...Option) *Repository {
	r := &Repository{
		db:    a,
		log:   zerolog.Nop(),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		cache: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize replaces the cache with every live row in the store.
func (r *Repository) Initialize(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	rows, err := r.db.QueryAll(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE deleted_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		r.log.Error().Err(err).Msg("load live services")
		return fmt.Errorf("load services: %w", err)
	}

	cache := make(map[string]cacheEntry, len(rows))
	var seq uint64
	for _, row := range rows {
		s, err := scanService(row)
		if err != nil {
			return fmt.Errorf("decode service %s: %w", row.String("id"), err)
		}
		seq++
		cache[s.ID] = cacheEntry{svc: s, seq: seq}
	}

	if _, err := db.SetMetaIfAbsent(ctx, r.db, "initialized_at", r.now().UTC().Format(time.RFC3339), r.now()); err != nil {
		r.log.Warn().Err(err).Msg("record initialized_at")
	}

	r.mu.Lock()
	r.cache = cache
	r.seq = seq
	r.mu.Unlock()

	r.log.Info().Int("services", len(cache)).Msg("service cache loaded")
	return nil
}

// Register validates draft, persists the new service with its audit entry
// and then makes it visible in the cache.
func (r *Repository) Register(ctx context.Context, draft ServiceDraft, actor string) (Service, error) {
	if strings.TrimSpace(actor) == "" {
		return Service{}, invalid("actor is required")
	}
	if err := validateDraft(&draft); err != nil {
		return Service{}, err
	}

	now := r.now().UTC()
	s := Service{
		ID:             r.newID(),
		Name:           draft.Name,
		Description:    draft.Description,
		ProviderID:     draft.ProviderID,
		ProviderWallet: draft.ProviderWallet,
		Chain:          draft.Chain,
		Endpoint:       draft.Endpoint,
		Capabilities:   draft.Capabilities,
		Pricing:        draft.Pricing,
		Metadata:       draft.Metadata,
		CreatedBy:      actor,
		UpdatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	err := r.db.InTx(ctx, func(ctx context.Context) error {
		if err := insertService(ctx, r.db, s); err != nil {
			return err
		}
		return r.audit(ctx, s.ID, ActionCreate, s, actor)
	})
	if err != nil {
		r.log.Error().Err(err).Str("service_id", s.ID).Msg("persist register")
		return Service{}, fmt.Errorf("register service: %w", err)
	}

	r.put(s, true)
	return s.clone(), nil
}

// Get is a cache lookup; soft-deleted services are not found.
func (r *Repository) Get(id string) (Service, error) {
	r.mu.RLock()
	e, ok := r.cache[id]
	r.mu.RUnlock()
	if !ok {
		return Service{}, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	return e.svc.clone(), nil
}

// Lookup reads the store directly, soft-deleted rows included.
func (r *Repository) Lookup(ctx context.Context, id string) (Service, error) {
	return loadService(ctx, r.db, id)
}

// ListDeleted returns soft-deleted rows, most recently deleted first.
func (r *Repository) ListDeleted(ctx context.Context) ([]Service, error) {
	rows, err := r.db.QueryAll(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list deleted services: %w", err)
	}
	out := make([]Service, 0, len(rows))
	for _, row := range rows {
		s, err := scanService(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Update applies patch to a live service. Absent ids yield ErrNotFound and
// soft-deleted ones ErrAlreadyDeleted; in both cases the store is untouched.
func (r *Repository) Update(ctx context.Context, id string, patch ServicePatch, actor string) (Service, error) {
	if strings.TrimSpace(actor) == "" {
		return Service{}, invalid("actor is required")
	}
	if patch.empty() {
		return Service{}, invalid("empty patch")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.live(ctx, id)
	if err != nil {
		return Service{}, err
	}

	next, err := applyPatch(cur, patch)
	if err != nil {
		return Service{}, err
	}
	next.UpdatedBy = actor
	next.UpdatedAt = r.now().UTC()

	err = r.db.InTx(ctx, func(ctx context.Context) error {
		n, err := updateLiveService(ctx, r.db, next)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("service %s: %w", id, ErrAlreadyDeleted)
		}
		return r.audit(ctx, id, ActionUpdate, patch, actor)
	})
	if err != nil {
		if !errors.Is(err, ErrPrecondition) {
			r.log.Error().Err(err).Str("service_id", id).Msg("persist update")
		}
		return Service{}, fmt.Errorf("update service: %w", err)
	}

	r.put(next, false)
	return next.clone(), nil
}

// SoftDelete hides a live service from the cache; the row stays in the store.
func (r *Repository) SoftDelete(ctx context.Context, id, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return invalid("actor is required")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.live(ctx, id); err != nil {
		return err
	}

	now := r.now().UTC()
	err := r.db.InTx(ctx, func(ctx context.Context) error {
		n, err := r.db.Exec(ctx,
			`UPDATE services SET deleted_at = ?, updated_at = ?, updated_by = ? WHERE id = ? AND deleted_at IS NULL`,
			now, now, actor, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("service %s: %w", id, ErrAlreadyDeleted)
		}
		return r.audit(ctx, id, ActionDelete, map[string]any{"deleted_at": now}, actor)
	})
	if err != nil {
		if !errors.Is(err, ErrPrecondition) {
			r.log.Error().Err(err).Str("service_id", id).Msg("persist soft delete")
		}
		return fmt.Errorf("delete service: %w", err)
	}

	r.evict(id)
	return nil
}

// Restore brings a soft-deleted service back into the cache.
func (r *Repository) Restore(ctx context.Context, id, actor string) (Service, error) {
	if strings.TrimSpace(actor) == "" {
		return Service{}, invalid("actor is required")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	s, err := loadService(ctx, r.db, id)
	if err != nil {
		return Service{}, err
	}
	if s.DeletedAt == nil {
		return Service{}, fmt.Errorf("service %s: %w", id, ErrNotDeleted)
	}

	now := r.now().UTC()
	err = r.db.InTx(ctx, func(ctx context.Context) error {
		n, err := r.db.Exec(ctx,
			`UPDATE services SET deleted_at = NULL, updated_at = ?, updated_by = ? WHERE id = ? AND deleted_at IS NOT NULL`,
			now, actor, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("service %s: %w", id, ErrNotDeleted)
		}
		return r.audit(ctx, id, ActionRestore, map[string]any{"deleted_at": nil}, actor)
	})
	if err != nil {
		if !errors.Is(err, ErrPrecondition) {
			r.log.Error().Err(err).Str("service_id", id).Msg("persist restore")
		}
		return Service{}, fmt.Errorf("restore service: %w", err)
	}

	s.DeletedAt = nil
	s.UpdatedAt = now
	s.UpdatedBy = actor
	r.put(s, true)
	return s.clone(), nil
}

// Purge physically removes the row and everything that references it. It
// writes no audit entry and cannot be undone.
func (r *Repository) Purge(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	n, err := r.db.Exec(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		r.log.Error().Err(err).Str("service_id", id).Msg("purge")
		return fmt.Errorf("purge service: %w", err)
	}
	r.evict(id)
	if n == 0 {
		return fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	r.log.Warn().Str("service_id", id).Msg("service purged")
	return nil
}

// live returns the cached service or the precondition that rules it out.
func (r *Repository) live(ctx context.Context, id string) (Service, error) {
	r.mu.RLock()
	e, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return e.svc.clone(), nil
	}

	s, err := loadService(ctx, r.db, id)
	if err != nil {
		return Service{}, err
	}
	if s.DeletedAt != nil {
		return Service{}, fmt.Errorf("service %s: %w", id, ErrAlreadyDeleted)
	}
	// Live in the store but not cached: another instance registered it.
	return Service{}, fmt.Errorf("service %s: %w", id, ErrNotFound)
}

func (r *Repository) put(s Service, appendOrder bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[s.ID]
	if !ok || appendOrder {
		r.seq++
		e.seq = r.seq
	}
	e.svc = s.clone()
	r.cache[s.ID] = e
}

func (r *Repository) evict(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func validateDraft(d *ServiceDraft) error {
	d.Name = strings.TrimSpace(d.Name)
	d.ProviderID = strings.TrimSpace(d.ProviderID)
	d.Endpoint = strings.TrimSpace(d.Endpoint)
	switch {
	case d.Name == "":
		return invalid("name is required")
	case d.ProviderID == "":
		return invalid("provider_id is required")
	case d.Endpoint == "":
		return invalid("endpoint is required")
	}

	chain, err := address.ParseChain(string(d.Chain))
	if err != nil {
		return invalid("%v", err)
	}
	wallet, err := address.Normalize(chain, d.ProviderWallet)
	if err != nil {
		return invalid("provider_wallet: %v", err)
	}
	d.Chain = chain
	d.ProviderWallet = wallet

	if err := validatePricing(d.Pricing); err != nil {
		return err
	}
	d.Capabilities = normalizeCapabilities(d.Capabilities)
	return nil
}

func validatePricing(p Pricing) error {
	if p.Amount.IsNegative() {
		return invalid("pricing.amount must not be negative")
	}
	if strings.TrimSpace(p.Currency) == "" {
		return invalid("pricing.currency is required")
	}
	return nil
}

// normalizeCapabilities trims, drops empties and removes duplicates while
// keeping first-seen order.
func normalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func applyPatch(s Service, p ServicePatch) (Service, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return Service{}, invalid("name must not be empty")
		}
		s.Name = name
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Endpoint != nil {
		ep := strings.TrimSpace(*p.Endpoint)
		if ep == "" {
			return Service{}, invalid("endpoint must not be empty")
		}
		s.Endpoint = ep
	}
	if p.Chain != nil {
		chain, err := address.ParseChain(string(*p.Chain))
		if err != nil {
			return Service{}, invalid("%v", err)
		}
		s.Chain = chain
	}
	if p.ProviderWallet != nil {
		s.ProviderWallet = *p.ProviderWallet
	}
	if p.Chain != nil || p.ProviderWallet != nil {
		wallet, err := address.Normalize(s.Chain, s.ProviderWallet)
		if err != nil {
			return Service{}, invalid("provider_wallet: %v", err)
		}
		s.ProviderWallet = wallet
	}
	if p.Capabilities != nil {
		s.Capabilities = normalizeCapabilities(*p.Capabilities)
	}
	if p.Pricing != nil {
		if err := validatePricing(*p.Pricing); err != nil {
			return Service{}, err
		}
		s.Pricing = *p.Pricing
	}
	if p.Metadata != nil {
		s.Metadata = *p.Metadata
	}
	return s, nil
}
