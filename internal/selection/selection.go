// Package selection models the add-ons attached to an in-progress tenant.
//
// Removal is two-phase: RequestRemoval/RequestUnselect park an intent,
// Confirm applies it and Cancel discards it. Branch configuration is work
// the user may have spent time on, so nothing is thrown away without an
// explicit confirmation step.
package selection

import (
	"errors"
	"sync"

	"github.com/avelinos/onboardly/internal/catalog"
)

var (
	ErrNoBranchSelected = errors.New("selection: at least one branch must be selected")
	ErrNotConfigured    = errors.New("selection: addon not configured")
	ErrIncludedAddon    = errors.New("selection: included addons cannot be removed")
	ErrNoPendingIntent  = errors.New("selection: no pending confirmation")
)

// BranchChoice is one branch's on/off state for a branch-scoped add-on.
type BranchChoice struct {
	BranchIndex int    `json:"branchIndex"`
	BranchName  string `json:"branchName"`
	Selected    bool   `json:"selected"`
}

// SelectedAddon is a configured add-on for the in-progress tenant. Price and
// scope are snapshots taken at configuration time; later catalogue edits do
// not silently change what the tenant agreed to pay.
type SelectedAddon struct {
	AddonID    string             `json:"addonId"`
	Name       string             `json:"name"`
	PriceCents int64              `json:"priceCents"`
	Scope      catalog.AddonScope `json:"scope"`
	IsIncluded bool               `json:"isIncluded"`
	// Branches is populated only for branch-scoped add-ons, one entry per
	// branch configured for the tenant, in branch order.
	Branches []BranchChoice `json:"branches,omitempty"`
}

// SelectedBranchCount returns how many branches are switched on.
func (s *SelectedAddon) SelectedBranchCount() int {
	n := 0
	for _, b := range s.Branches {
		if b.Selected {
			n++
		}
	}
	return n
}

// IntentAction distinguishes why a removal confirmation is pending.
type IntentAction string

const (
	// ActionRemove discards a configured add-on entirely (summary view).
	ActionRemove IntentAction = "remove"
	// ActionUnselect discards it when leaving a configuration modal
	// without saving.
	ActionUnselect IntentAction = "unselect"
)

// RemovalIntent is a parked request to drop an add-on, awaiting confirmation.
type RemovalIntent struct {
	AddonID   string       `json:"addonId"`
	AddonName string       `json:"addonName"`
	Action    IntentAction `json:"action"`
}

// Basket holds the add-on selections for one onboarding session, in
// configuration order.
type Basket struct {
	mu      sync.RWMutex
	order   []string
	items   map[string]*SelectedAddon
	pending *RemovalIntent
	version uint64
}

// NewBasket creates an empty basket.
func NewBasket() *Basket {
	return &Basket{items: make(map[string]*SelectedAddon)}
}

// Configure inserts or replaces the selection for an add-on. Branch-scoped
// add-ons must have at least one branch selected; on validation failure the
// basket is left untouched.
func (b *Basket) Configure(addon *catalog.Addon, branches []BranchChoice) (*SelectedAddon, error) {
	sel := &SelectedAddon{
		AddonID:    addon.ID,
		Name:       addon.Name,
		PriceCents: addon.PriceCents,
		Scope:      addon.Scope,
		IsIncluded: addon.IsIncluded,
	}
	if addon.Scope == catalog.ScopeBranch {
		sel.Branches = append([]BranchChoice(nil), branches...)
		if sel.SelectedBranchCount() == 0 {
			return nil, ErrNoBranchSelected
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.items[addon.ID]; !exists {
		b.order = append(b.order, addon.ID)
	}
	b.items[addon.ID] = sel
	b.version++
	return sel, nil
}

// Get returns the selection for an add-on id.
func (b *Basket) Get(addonID string) (*SelectedAddon, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sel, ok := b.items[addonID]
	if !ok {
		return nil, ErrNotConfigured
	}
	return sel, nil
}

// Items returns the selections in configuration order.
func (b *Basket) Items() []*SelectedAddon {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*SelectedAddon, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	return out
}

// RequestRemoval parks a removal intent for a configured add-on. A newer
// request overwrites any intent already parked; intents do not queue.
func (b *Basket) RequestRemoval(addonID string) (*RemovalIntent, error) {
	return b.requestIntent(addonID, ActionRemove)
}

// RequestUnselect parks an unselect intent (leaving a configuration modal
// without saving).
func (b *Basket) RequestUnselect(addonID string) (*RemovalIntent, error) {
	return b.requestIntent(addonID, ActionUnselect)
}

func (b *Basket) requestIntent(addonID string, action IntentAction) (*RemovalIntent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sel, ok := b.items[addonID]
	if !ok {
		return nil, ErrNotConfigured
	}
	if sel.IsIncluded {
		return nil, ErrIncludedAddon
	}
	b.pending = &RemovalIntent{AddonID: addonID, AddonName: sel.Name, Action: action}
	return b.pending, nil
}

// Pending returns the parked intent, or nil.
func (b *Basket) Pending() *RemovalIntent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pending
}

// Confirm applies the parked intent: the selection is deleted and the
// pending slot cleared.
func (b *Basket) Confirm() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == nil {
		return ErrNoPendingIntent
	}
	id := b.pending.AddonID
	b.pending = nil

	if _, ok := b.items[id]; !ok {
		// Already gone (configured over and removed); nothing to delete.
		return nil
	}
	delete(b.items, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.version++
	return nil
}

// Cancel clears the parked intent without touching the selection.
func (b *Basket) Cancel() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Version is a monotonic counter bumped on every mutation. The payment
// orchestrator records it at initiate time; a mismatch later means the
// basket changed under an in-flight intent and the intent must be redone.
func (b *Basket) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Len returns the number of configured add-ons.
func (b *Basket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
