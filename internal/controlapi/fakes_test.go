package controlapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/internal/store"
)

// fakeRepo is an in-memory store.RuleRepository.
type fakeRepo struct {
	mu        sync.Mutex
	nextID    int64
	rules     map[int64]*store.Rule
	whitelist map[int64]*store.WhitelistEntry
	// err, when set, fails every call.
	err error
}

var _ store.RuleRepository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rules:     make(map[int64]*store.Rule),
		whitelist: make(map[int64]*store.WhitelistEntry),
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) ListEnabledRules(context.Context) ([]*store.Rule, error) {
	enabled := true
	rules, _, err := f.ListRules(context.Background(), store.RuleFilter{Enabled: &enabled, Limit: 1 << 20})
	return rules, err
}

func (f *fakeRepo) ListWhitelist(_ context.Context, ruleID int64) ([]*store.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.WhitelistEntry
	for _, e := range f.whitelist {
		if e.RuleID == ruleID && e.Enabled {
			c := *e
			out = append(out, &c)
		}
	}
	return out, f.err
}

func (f *fakeRepo) ListRules(_ context.Context, filter store.RuleFilter) ([]*store.Rule, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}

	var all []*store.Rule
	for _, r := range f.rules {
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		c := *r
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].ID < all[j].ID
	})

	total := int64(len(all))
	start := min(filter.Offset, len(all))
	end := min(start+filter.Limit, len(all))
	return all[start:end], total, nil
}

func (f *fakeRepo) GetRule(_ context.Context, id int64) (*store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, store.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (f *fakeRepo) nameTaken(name string, except int64) bool {
	for _, r := range f.rules {
		if r.Name == name && r.ID != except {
			return true
		}
	}
	return false
}

func (f *fakeRepo) CreateRule(_ context.Context, r *store.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.nameTaken(r.Name, 0) {
		return fmt.Errorf("rule %q already exists: %w", r.Name, store.ErrConflict)
	}
	r.ID = f.id()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	c := *r
	f.rules[r.ID] = &c
	return nil
}

func (f *fakeRepo) UpdateRule(_ context.Context, id int64, mutate func(*store.Rule) error) (*store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	stored, ok := f.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, store.ErrNotFound)
	}
	c := *stored
	c.MatchValues = slices.Clone(stored.MatchValues)
	if err := mutate(&c); err != nil {
		return nil, err
	}
	if f.nameTaken(c.Name, id) {
		return nil, fmt.Errorf("rule %q already exists: %w", c.Name, store.ErrConflict)
	}
	c.UpdatedAt = time.Now()
	f.rules[id] = &c
	out := c
	return &out, nil
}

func (f *fakeRepo) DeleteRule(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.rules[id]; !ok {
		return fmt.Errorf("rule %d: %w", id, store.ErrNotFound)
	}
	delete(f.rules, id)
	for eid, e := range f.whitelist {
		if e.RuleID == id {
			delete(f.whitelist, eid)
		}
	}
	return nil
}

func (f *fakeRepo) ToggleRule(_ context.Context, id int64) (*store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, store.ErrNotFound)
	}
	r.Enabled = !r.Enabled
	c := *r
	return &c, nil
}

func (f *fakeRepo) ListRuleWhitelist(_ context.Context, ruleID int64) ([]*store.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.rules[ruleID]; !ok {
		return nil, fmt.Errorf("rule %d: %w", ruleID, store.ErrNotFound)
	}
	var out []*store.WhitelistEntry
	for _, e := range f.whitelist {
		if e.RuleID == ruleID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeRepo) valueTaken(ruleID int64, value string) bool {
	for _, e := range f.whitelist {
		if e.RuleID == ruleID && e.Value == value {
			return true
		}
	}
	return false
}

func (f *fakeRepo) CreateWhitelistEntry(_ context.Context, e *store.WhitelistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.rules[e.RuleID]; !ok {
		return fmt.Errorf("rule %d: %w", e.RuleID, store.ErrNotFound)
	}
	if f.valueTaken(e.RuleID, e.Value) {
		return fmt.Errorf("whitelist value %q already exists: %w", e.Value, store.ErrConflict)
	}
	e.ID = f.id()
	e.CreatedAt = time.Now()
	c := *e
	f.whitelist[e.ID] = &c
	return nil
}

func (f *fakeRepo) BatchCreateWhitelist(_ context.Context, ruleID int64, values []string, valueType string) (store.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.BatchResult{}, f.err
	}
	if _, ok := f.rules[ruleID]; !ok {
		return store.BatchResult{}, fmt.Errorf("rule %d: %w", ruleID, store.ErrNotFound)
	}
	var res store.BatchResult
	for _, v := range values {
		if f.valueTaken(ruleID, v) {
			res.Skipped++
			continue
		}
		id := f.id()
		f.whitelist[id] = &store.WhitelistEntry{
			ID: id, RuleID: ruleID, Value: v, ValueType: valueType, Enabled: true, CreatedAt: time.Now(),
		}
		res.Added++
	}
	return res, nil
}

func (f *fakeRepo) DeleteWhitelistEntry(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.whitelist[id]; !ok {
		return fmt.Errorf("whitelist entry %d: %w", id, store.ErrNotFound)
	}
	delete(f.whitelist, id)
	return nil
}

func (f *fakeRepo) ToggleWhitelistEntry(_ context.Context, id int64) (*store.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.whitelist[id]
	if !ok {
		return nil, fmt.Errorf("whitelist entry %d: %w", id, store.ErrNotFound)
	}
	e.Enabled = !e.Enabled
	c := *e
	return &c, nil
}

// recordingInvalidator records reasons and fails the first failures calls.
type recordingInvalidator struct {
	mu       sync.Mutex
	reasons  []string
	calls    int
	failures int
}

func (r *recordingInvalidator) Invalidate(_ context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return errors.New("bus down")
	}
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func (r *recordingInvalidator) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
