package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/cache"
	"github.com/redis/go-redis/v9"
)

type memStore struct {
	mu       sync.Mutex
	subjects map[uuid.UUID]*Subject
	loads    int
	// afterLoad runs once the subject has been read, outside the lock.
	afterLoad func()
}

func (s *memStore) LoadSubject(_ context.Context, userID uuid.UUID) (*Subject, error) {
	sub, err := s.read(userID)
	if s.afterLoad != nil {
		hook := s.afterLoad
		s.afterLoad = nil
		hook()
	}
	return sub, err
}

func (s *memStore) read(userID uuid.UUID) (*Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	sub, ok := s.subjects[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *sub
	if sub.Custom != nil {
		c := *sub.Custom
		c.Overrides = append([]Override(nil), sub.Custom.Overrides...)
		cp.Custom = &c
	}
	return &cp, nil
}

func (s *memStore) UsersWithCustomRole(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, sub := range s.subjects {
		if sub.CustomRoleID != nil && *sub.CustomRoleID == roleID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newResolverTest(t *testing.T) (*Resolver, *memStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	store := &memStore{subjects: map[uuid.UUID]*Subject{}}
	return NewResolver(store, cache.NewCache(rdb), time.Minute), store, mr
}

func TestResolveDefaultsAndCaches(t *testing.T) {
	r, store, _ := newResolverTest(t)
	ctx := context.Background()
	userID := uuid.New()
	store.subjects[userID] = &Subject{Role: RoleOperator}

	for i := 0; i < 3; i++ {
		set, err := r.Resolve(ctx, userID)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !set.Has(NewPermission(ModuleFarms, ActionCreate)) || set.Has(NewPermission(ModuleFarms, ActionDelete)) {
			t.Fatalf("unexpected operator set %v", set.Slice())
		}
	}
	if store.loads != 1 {
		t.Fatalf("expected one store load, got %d", store.loads)
	}
}

func TestResolveCustomRole(t *testing.T) {
	r, store, _ := newResolverTest(t)
	ctx := context.Background()
	userID, roleID := uuid.New(), uuid.New()
	farmsRead := NewPermission(ModuleFarms, ActionRead)
	farmsDelete := NewPermission(ModuleFarms, ActionDelete)
	store.subjects[userID] = &Subject{
		Role:         RoleManager,
		CustomRoleID: &roleID,
		Custom: &CustomGrants{BaseRole: RoleManager, Active: true, Overrides: []Override{
			{Permission: farmsRead, Allowed: true},
			{Permission: farmsDelete, Allowed: false},
		}},
	}

	set, err := r.Resolve(ctx, userID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(set) != 1 || !set.Has(farmsRead) {
		t.Fatalf("custom set should hold exactly farms:read, got %v", set.Slice())
	}
}

func TestResolveInactiveCustomRoleFallsBack(t *testing.T) {
	r, store, _ := newResolverTest(t)
	userID, roleID := uuid.New(), uuid.New()
	store.subjects[userID] = &Subject{
		Role:         RoleViewer,
		CustomRoleID: &roleID,
		Custom:       &CustomGrants{BaseRole: RoleViewer, Active: false},
	}

	set, err := r.Resolve(context.Background(), userID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(set) != len(Defaults(RoleViewer)) {
		t.Fatalf("expected viewer defaults, got %v", set.Slice())
	}
}

func TestResolveReclampsOverrides(t *testing.T) {
	r, store, _ := newResolverTest(t)
	userID, roleID := uuid.New(), uuid.New()
	rolesDelete := NewPermission(ModuleRoles, ActionDelete)
	store.subjects[userID] = &Subject{
		Role:         RoleViewer,
		CustomRoleID: &roleID,
		Custom: &CustomGrants{BaseRole: RoleViewer, Active: true, Overrides: []Override{
			{Permission: rolesDelete, Allowed: true},
		}},
	}

	set, err := r.Resolve(context.Background(), userID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.Has(rolesDelete) {
		t.Fatalf("stored grant outside the base defaults must not resolve")
	}
}

func TestInvalidateReflectsStoreChange(t *testing.T) {
	r, store, _ := newResolverTest(t)
	ctx := context.Background()
	userID := uuid.New()
	store.subjects[userID] = &Subject{Role: RoleViewer}
	farmsCreate := NewPermission(ModuleFarms, ActionCreate)

	if ok, _ := r.Authorize(ctx, userID, RoleViewer, farmsCreate); ok {
		t.Fatalf("viewer must not create farms")
	}

	store.subjects[userID] = &Subject{Role: RoleManager}
	if ok, _ := r.Authorize(ctx, userID, RoleViewer, farmsCreate); ok {
		t.Fatalf("cached set should still be served before invalidation")
	}

	if err := r.Invalidate(ctx, userID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	ok, err := r.Authorize(ctx, userID, RoleManager, farmsCreate)
	if err != nil || !ok {
		t.Fatalf("expected fresh grant after invalidation, got %v (%v)", ok, err)
	}
}

func TestInvalidateDuringLoadIsNotOverwritten(t *testing.T) {
	r, store, mr := newResolverTest(t)
	ctx := context.Background()
	userID := uuid.New()
	store.subjects[userID] = &Subject{Role: RoleViewer}
	farmsCreate := NewPermission(ModuleFarms, ActionCreate)

	store.afterLoad = func() {
		store.mu.Lock()
		store.subjects[userID] = &Subject{Role: RoleManager}
		store.mu.Unlock()
		if err := r.Invalidate(ctx, userID); err != nil {
			t.Errorf("invalidate: %v", err)
		}
	}
	if _, err := r.Resolve(ctx, userID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mr.Exists(permKey(userID)) {
		t.Fatalf("set loaded before the invalidation was cached")
	}

	ok, err := r.Authorize(ctx, userID, RoleManager, farmsCreate)
	if err != nil || !ok {
		t.Fatalf("expected the new grant, got %v (%v)", ok, err)
	}
	if !mr.Exists(permKey(userID)) {
		t.Fatalf("fresh set was not cached")
	}
}

func TestInvalidateForRole(t *testing.T) {
	r, store, mr := newResolverTest(t)
	ctx := context.Background()
	roleID := uuid.New()
	onRole, other := uuid.New(), uuid.New()
	store.subjects[onRole] = &Subject{Role: RoleManager, CustomRoleID: &roleID, Custom: &CustomGrants{BaseRole: RoleManager, Active: true}}
	store.subjects[other] = &Subject{Role: RoleViewer}

	for _, id := range []uuid.UUID{onRole, other} {
		if _, err := r.Resolve(ctx, id); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if err := r.InvalidateForRole(ctx, roleID); err != nil {
		t.Fatalf("invalidate for role: %v", err)
	}
	if mr.Exists(permKey(onRole)) {
		t.Fatalf("member entry survived role invalidation")
	}
	if !mr.Exists(permKey(other)) {
		t.Fatalf("unrelated entry was dropped")
	}
}

func TestTopRoleSkipsCacheAndStore(t *testing.T) {
	r, store, mr := newResolverTest(t)
	mr.Close()

	ok, err := r.Authorize(context.Background(), uuid.New(), RoleSuperAdmin, NewPermission(ModuleRoles, ActionDelete))
	if err != nil || !ok {
		t.Fatalf("top role must pass, got %v (%v)", ok, err)
	}
	if store.loads != 0 {
		t.Fatalf("top role consulted the store")
	}
}

func TestResolveSurvivesCacheOutage(t *testing.T) {
	r, store, mr := newResolverTest(t)
	userID := uuid.New()
	store.subjects[userID] = &Subject{Role: RoleManager}
	mr.Close()

	ok, err := r.Authorize(context.Background(), userID, RoleManager, NewPermission(ModuleProducers, ActionDelete))
	if err != nil || !ok {
		t.Fatalf("resolver should fall through to the store, got %v (%v)", ok, err)
	}
}

func TestResolveUnknownUser(t *testing.T) {
	r, _, _ := newResolverTest(t)
	if _, err := r.Resolve(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}
