package memory

import (
	"cmp"
	"encoding/binary"
	"slices"
	"sync"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// CanisterStore holds the canisters of the subnet.
//
// Get lends out the stored aggregate: the caller may mutate it for the
// duration of one replicated operation and must not keep it afterwards.
type CanisterStore struct {
	mu        sync.RWMutex
	canisters map[domain.CanisterID]*domain.Canister
	nextID    uint64
}

// NewCanisterStore creates an empty canister store.
func NewCanisterStore() *CanisterStore {
	return &CanisterStore{
		canisters: make(map[domain.CanisterID]*domain.Canister),
	}
}

// NextID allocates a fresh canister principal.
func (s *CanisterStore) NextID() domain.CanisterID {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := canisterIDFromCounter(s.nextID)
		s.nextID++
		if _, taken := s.canisters[id]; !taken {
			return id
		}
	}
}

// canisterIDFromCounter encodes the counter as 8 big-endian bytes followed
// by the opaque-id class suffix.
func canisterIDFromCounter(n uint64) domain.CanisterID {
	b := make([]byte, 10)
	binary.BigEndian.PutUint64(b, n)
	b[8], b[9] = 0x01, 0x01
	return domain.PrincipalID(b)
}

// Get retrieves a canister by id.
func (s *CanisterStore) Get(id domain.CanisterID) (*domain.Canister, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.canisters[id]
	return c, ok
}

// Create stores a new canister.
func (s *CanisterStore) Create(c *domain.Canister) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.canisters[c.ID]; exists {
		return domain.ErrCanisterAlreadyExists.WithDetailsf("Canister %s already exists.", c.ID)
	}

	s.canisters[c.ID] = c
	return nil
}

// Delete removes a canister and returns it.
func (s *CanisterStore) Delete(id domain.CanisterID) (*domain.Canister, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.canisters[id]
	if !ok {
		return nil, false
	}
	delete(s.canisters, id)
	return c, true
}

// Len returns the number of canisters.
func (s *CanisterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.canisters)
}

// List returns deep copies of all canisters ordered by id.
func (s *CanisterStore) List() []*domain.Canister {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*domain.Canister, 0, len(s.canisters))
	for _, c := range s.canisters {
		list = append(list, c.Clone())
	}
	slices.SortFunc(list, func(a, b *domain.Canister) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return list
}

// CanisterStoreState is the checkpointed canister store content.
type CanisterStoreState struct {
	NextID    uint64             `json:"next_id"`
	Canisters []*domain.Canister `json:"canisters"`
}

// Export returns a deep copy of the store content.
func (s *CanisterStore) Export() CanisterStoreState {
	list := s.List()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return CanisterStoreState{NextID: s.nextID, Canisters: list}
}

// Import replaces the store content.
func (s *CanisterStore) Import(st CanisterStoreState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID = st.NextID
	s.canisters = make(map[domain.CanisterID]*domain.Canister, len(st.Canisters))
	for _, c := range st.Canisters {
		s.canisters[c.ID] = c
	}
}
