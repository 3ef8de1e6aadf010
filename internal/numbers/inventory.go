package numbers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voice-console/internal/auth"
	"voice-console/internal/backend"
	"voice-console/internal/normalize"
	"voice-console/internal/phone"
	"voice-console/pkg/logger"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Provisioner is the remote provisioning API.
type Provisioner interface {
	SearchAvailableNumbers(ctx context.Context, p backend.SearchParams) ([]normalize.Record, error)
	PurchaseNumber(ctx context.Context, p backend.PurchaseParams) (normalize.Record, error)
	ReleaseNumber(ctx context.Context, id string) error
	ListOwnedNumbers(ctx context.Context) ([]normalize.Record, error)
}

// HistoryPurger drops locally held history for a released number.
type HistoryPurger interface {
	PurgeNumber(phoneNumberID string)
}

// UsageChecker reports whether a number is the source of the live call.
type UsageChecker interface {
	SourceNumberInUse(e164 string) bool
}

type Cache interface {
	Load(ctx context.Context) ([]OwnedNumber, bool, error)
	Store(ctx context.Context, owned []OwnedNumber) error
}

type Auditor interface {
	NumberPurchased(ctx context.Context, actor, numberID, e164 string) error
	NumberReleased(ctx context.Context, actor, numberID, e164 string) error
}

type Options struct {
	Provisioner Provisioner
	Policy      phone.Policy

	// Optional.
	Purger HistoryPurger
	InUse  UsageChecker
	Cache  Cache
	Audit  Auditor
	Logger *slog.Logger
}

// Inventory is the local view of the account's numbers plus the selected
// outbound number shared with the call controller.
type Inventory struct {
	prov   Provisioner
	policy phone.Policy
	purger HistoryPurger
	inUse  UsageChecker
	cache  Cache
	audit  Auditor
	log    *slog.Logger

	mu         sync.RWMutex
	owned      []OwnedNumber
	selectedID string
}

func NewInventory(opts Options) (*Inventory, error) {
	if opts.Provisioner == nil {
		return nil, errors.New("numbers: provisioner is required")
	}
	if opts.Policy.DefaultCountryCode == "" {
		opts.Policy = phone.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Inventory{
		prov:   opts.Provisioner,
		policy: opts.Policy,
		purger: opts.Purger,
		inUse:  opts.InUse,
		cache:  opts.Cache,
		audit:  opts.Audit,
		log:    opts.Logger.With("component", "number_inventory"),
	}, nil
}

// Search lists purchasable numbers. No inventory is an empty, non-nil slice.
func (inv *Inventory) Search(ctx context.Context, areaCode, country string, limit int) ([]AvailableNumber, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	recs, err := inv.prov.SearchAvailableNumbers(ctx, backend.SearchParams{
		AreaCode: strings.TrimSpace(areaCode),
		Country:  strings.ToUpper(strings.TrimSpace(country)),
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("numbers: search: %w", err)
	}

	out := make([]AvailableNumber, 0, len(recs))
	for _, r := range recs {
		if n, ok := availableFromRecord(r, inv.policy); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// Purchase buys number and appends it to the local set without a full refresh.
func (inv *Inventory) Purchase(ctx context.Context, number, country, areaCode string) (OwnedNumber, error) {
	e164, err := inv.policy.Normalize(number)
	if err != nil {
		return OwnedNumber{}, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	rec, err := inv.prov.PurchaseNumber(ctx, backend.PurchaseParams{
		PhoneNumber: e164,
		Country:     strings.ToUpper(strings.TrimSpace(country)),
		AreaCode:    strings.TrimSpace(areaCode),
	})
	if err != nil {
		return OwnedNumber{}, fmt.Errorf("numbers: purchase: %w", err)
	}

	// Some purchase responses echo only the id.
	if rec.String(numberKeys...) == "" {
		rec["phoneNumber"] = e164
	}
	n, ok := ownedFromRecord(rec, inv.policy)
	if !ok {
		return OwnedNumber{}, fmt.Errorf("numbers: purchase: %w", backend.ErrMalformedResponse)
	}
	if n.Country == "" {
		n.Country = strings.ToUpper(strings.TrimSpace(country))
	}

	inv.mu.Lock()
	inv.owned = upsert(inv.owned, n)
	snapshot := cloneOwned(inv.owned)
	inv.mu.Unlock()

	inv.storeCache(ctx, snapshot)
	if actor, err := auth.UserID(ctx); err == nil && inv.audit != nil {
		if err := inv.audit.NumberPurchased(ctx, actor, n.ID, n.E164Number); err != nil {
			inv.logFor(ctx).Warn("audit number purchase failed", "err", err)
		}
	}
	inv.logFor(ctx).Info("number purchased", "number_id", n.ID)
	return n, nil
}

// Release gives the number back. The local set only changes after the backend
// confirms; history held for the number is purged with it.
func (inv *Inventory) Release(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNumberNotFound
	}

	inv.mu.RLock()
	n, known := find(inv.owned, id)
	inv.mu.RUnlock()

	if !known && inv.inUse != nil {
		// Cold set: resolve the number so the in-use check still holds.
		var err error
		if n, known, err = inv.lookupOwned(ctx, id); err != nil {
			return fmt.Errorf("numbers: release: %w", err)
		}
	}
	if known && inv.inUse != nil && inv.inUse.SourceNumberInUse(n.E164Number) {
		return ErrNumberInUse
	}

	if err := inv.prov.ReleaseNumber(ctx, id); err != nil {
		return fmt.Errorf("numbers: release: %w", err)
	}

	inv.mu.Lock()
	inv.owned = remove(inv.owned, id)
	if inv.selectedID == id {
		inv.selectedID = ""
	}
	snapshot := cloneOwned(inv.owned)
	inv.mu.Unlock()

	if inv.purger != nil {
		inv.purger.PurgeNumber(id)
	}
	inv.storeCache(ctx, snapshot)
	if actor, err := auth.UserID(ctx); err == nil && inv.audit != nil {
		if err := inv.audit.NumberReleased(ctx, actor, id, n.E164Number); err != nil {
			inv.logFor(ctx).Warn("audit number release failed", "err", err)
		}
	}
	inv.logFor(ctx).Info("number released", "number_id", id)
	return nil
}

// Refresh replaces the local set with the backend's.
func (inv *Inventory) Refresh(ctx context.Context) ([]OwnedNumber, error) {
	recs, err := inv.prov.ListOwnedNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("numbers: refresh: %w", err)
	}
	owned := make([]OwnedNumber, 0, len(recs))
	for _, r := range recs {
		if n, ok := ownedFromRecord(r, inv.policy); ok {
			owned = upsert(owned, n)
		}
	}

	inv.mu.Lock()
	inv.owned = owned
	if _, ok := find(owned, inv.selectedID); !ok {
		inv.selectedID = ""
	}
	snapshot := cloneOwned(owned)
	inv.mu.Unlock()

	inv.storeCache(ctx, snapshot)
	return snapshot, nil
}

// Warm seeds an empty local set from the cache. A cold or failing cache is
// not an error; the next Refresh fills the set.
func (inv *Inventory) Warm(ctx context.Context) bool {
	if inv.cache == nil {
		return false
	}
	owned, ok, err := inv.cache.Load(ctx)
	if err != nil {
		inv.log.Warn("number cache load failed", "err", err)
		return false
	}
	if !ok {
		return false
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.owned) > 0 {
		return false
	}
	inv.owned = cloneOwned(owned)
	return true
}

// Select sets the outbound source number.
func (inv *Inventory) Select(id string) (OwnedNumber, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n, ok := find(inv.owned, id)
	if !ok {
		return OwnedNumber{}, ErrNumberNotFound
	}
	inv.selectedID = id
	return n, nil
}

// Selected returns the outbound source number, defaulting to the first
// active owned number.
func (inv *Inventory) Selected() (OwnedNumber, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	if n, ok := find(inv.owned, inv.selectedID); ok {
		return n, true
	}
	for _, n := range inv.owned {
		if n.Status == StatusActive && n.Capabilities.Voice {
			return n, true
		}
	}
	return OwnedNumber{}, false
}

// Owns reports whether e164 is one of the account's active numbers.
func (inv *Inventory) Owns(e164 string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	for _, n := range inv.owned {
		if n.Status == StatusActive && inv.policy.Equal(n.E164Number, e164) {
			return true
		}
	}
	return false
}

func (inv *Inventory) Owned() []OwnedNumber {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return cloneOwned(inv.owned)
}

// lookupOwned finds id in the backend's owned list without touching the local set.
func (inv *Inventory) lookupOwned(ctx context.Context, id string) (OwnedNumber, bool, error) {
	recs, err := inv.prov.ListOwnedNumbers(ctx)
	if err != nil {
		return OwnedNumber{}, false, err
	}
	for _, r := range recs {
		if n, ok := ownedFromRecord(r, inv.policy); ok && n.ID == id {
			return n, true, nil
		}
	}
	return OwnedNumber{}, false, nil
}

// logFor prefers the request logger so request ids carry through.
func (inv *Inventory) logFor(ctx context.Context) *slog.Logger {
	if l := logger.Or(ctx, nil); l != nil {
		return l.With("component", "number_inventory")
	}
	return inv.log
}

func (inv *Inventory) storeCache(ctx context.Context, owned []OwnedNumber) {
	if inv.cache == nil {
		return
	}
	if err := inv.cache.Store(ctx, owned); err != nil {
		inv.logFor(ctx).Warn("number cache store failed", "err", err)
	}
}

func find(owned []OwnedNumber, id string) (OwnedNumber, bool) {
	if id == "" {
		return OwnedNumber{}, false
	}
	for _, n := range owned {
		if n.ID == id {
			return n, true
		}
	}
	return OwnedNumber{}, false
}

func upsert(owned []OwnedNumber, n OwnedNumber) []OwnedNumber {
	for i := range owned {
		if owned[i].ID == n.ID {
			owned[i] = n
			return owned
		}
	}
	return append(owned, n)
}

func remove(owned []OwnedNumber, id string) []OwnedNumber {
	out := owned[:0]
	for _, n := range owned {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func cloneOwned(owned []OwnedNumber) []OwnedNumber {
	out := make([]OwnedNumber, len(owned))
	copy(out, owned)
	return out
}
