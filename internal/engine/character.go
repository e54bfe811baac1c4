package engine

import (
	"sync"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
)

// Character is a persistent, session-scoped sheet record optionally bound
// to one or more entities (§3). Version is bumped on every save and is
// strictly increasing.
type Character struct {
	ID             string
	SessionCode    string
	Name           string
	Data           map[string]interface{} // opaque sheet data
	Owner          string
	Version        int
	LastModifiedBy string
}

// CharacterStore holds every character in a live session, independent of
// the table/entity cache since a character's lifetime equals the session's
// lifetime and it is not owned by any one table (§3 ownership summary).
type CharacterStore struct {
	mu   sync.Mutex
	byID map[string]*Character
}

func NewCharacterStore() *CharacterStore {
	return &CharacterStore{byID: make(map[string]*Character)}
}

// OwnerOf implements CharacterOwnerLookup against this store.
func (s *CharacterStore) OwnerOf(characterID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[characterID]
	if !ok {
		return "", false
	}
	return c.Owner, true
}

func (s *CharacterStore) Get(characterID string) (*Character, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[characterID]
	return c, ok
}

// Load seeds the store from persistence (used during session
// reconstruction, §4.D).
func (s *CharacterStore) Load(characters []*Character) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range characters {
		s.byID[c.ID] = c
	}
}

// All returns every character currently held, for checkpoint flushes.
func (s *CharacterStore) All() []*Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Character, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	return out
}

// SaveCharacter implements the character versioning protocol (§4.D):
// creates with version=1 if absent; otherwise requires
// stored.version == expectedVersion when expectedVersion is non-nil,
// failing VERSION_CONFLICT (and returning the current stored state)
// otherwise. On success the patch is deep-merged into the stored data and
// the version is incremented.
func (s *CharacterStore) SaveCharacter(sessionCode, characterID string, patch map[string]interface{}, actor string, expectedVersion *int) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[characterID]
	if !ok {
		c := &Character{
			ID:             characterID,
			SessionCode:    sessionCode,
			Data:           deepMerge(map[string]interface{}{}, patch).(map[string]interface{}),
			Owner:          actor,
			Version:        1,
			LastModifiedBy: actor,
		}
		if name, ok := patch["name"].(string); ok {
			c.Name = name
		}
		s.byID[characterID] = c
		return c, nil
	}

	if expectedVersion != nil && existing.Version != *expectedVersion {
		return existing, apperr.Conflict(apperr.CodeVersionConflict, "character was modified concurrently")
	}

	existing.Data = deepMerge(existing.Data, patch).(map[string]interface{})
	existing.Version++
	existing.LastModifiedBy = actor
	if name, ok := patch["name"].(string); ok {
		existing.Name = name
	}
	return existing, nil
}

// NewCharacterID generates an id for a brand new character before its
// first save.
func NewCharacterID() string {
	return uuid.New().String()
}

// NewCharacterFromStorage reconstructs a Character from its persisted
// fields, for seeding a CharacterStore via Load (§4.D reconstruction).
func NewCharacterFromStorage(id, sessionCode, name string, data map[string]interface{}, owner string, version int, lastModifiedBy string) *Character {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Character{
		ID:             id,
		SessionCode:    sessionCode,
		Name:           name,
		Data:           data,
		Owner:          owner,
		Version:        version,
		LastModifiedBy: lastModifiedBy,
	}
}

// deepMerge implements §4.D's merge semantics: top-level keys overwritten
// by patch; nested objects (map[string]interface{}) recursively merged;
// arrays (and all other scalar types) replaced wholesale.
func deepMerge(base, patch interface{}) interface{} {
	baseMap, baseIsMap := base.(map[string]interface{})
	patchMap, patchIsMap := patch.(map[string]interface{})

	if !baseIsMap || !patchIsMap {
		return patch
	}

	out := make(map[string]interface{}, len(baseMap)+len(patchMap))
	for k, v := range baseMap {
		out[k] = v
	}
	for k, pv := range patchMap {
		if bv, exists := out[k]; exists {
			out[k] = deepMerge(bv, pv)
		} else {
			out[k] = pv
		}
	}
	return out
}
