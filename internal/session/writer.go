package session

import (
	"time"

	"mudengine/internal/engine"
)

// flushBatchSize and flushInterval are the count/time batch boundaries
// §4.D's write-through strategy names ("flushes on one of: N mutations
// queued, T milliseconds elapsed, client disconnection, explicit
// checkpoint, or session shutdown"). Client disconnection, checkpoint and
// shutdown are driven by Manager (Detach, Checkpoint, Evict); this file
// covers the N/T boundary for the mutations in between.
const (
	flushBatchSize = 20
	flushInterval  = 200 * time.Millisecond
)

// StageTable marks a table dirty for the next batch flush.
func (ls *LiveSession) StageTable(t *engine.Table) {
	ls.dirtyMu.Lock()
	ls.dirtyTables[t.ID] = t
	full := ls.dirtyCount() >= flushBatchSize
	ls.scheduleFlushLocked()
	ls.dirtyMu.Unlock()
	if full {
		go ls.Flush()
	}
}

// StageEntity marks an entity dirty for the next batch flush.
func (ls *LiveSession) StageEntity(e *engine.Entity) {
	ls.dirtyMu.Lock()
	ls.dirtyEntities[e.ID] = e
	full := ls.dirtyCount() >= flushBatchSize
	ls.scheduleFlushLocked()
	ls.dirtyMu.Unlock()
	if full {
		go ls.Flush()
	}
}

// StageCharacter marks a character dirty for the next batch flush.
func (ls *LiveSession) StageCharacter(c *engine.Character) {
	ls.dirtyMu.Lock()
	ls.dirtyCharacters[c.ID] = c
	full := ls.dirtyCount() >= flushBatchSize
	ls.scheduleFlushLocked()
	ls.dirtyMu.Unlock()
	if full {
		go ls.Flush()
	}
}

// dirtyCount returns the number of distinct staged rows. Caller holds
// dirtyMu.
func (ls *LiveSession) dirtyCount() int {
	return len(ls.dirtyTables) + len(ls.dirtyEntities) + len(ls.dirtyCharacters)
}

// scheduleFlushLocked arms the T-milliseconds flush boundary if no timer
// is already pending. Caller holds dirtyMu.
func (ls *LiveSession) scheduleFlushLocked() {
	if ls.flushTimer != nil {
		return
	}
	ls.flushTimer = time.AfterFunc(flushInterval, func() { ls.Flush() })
}

// Flush commits every currently staged table, entity and character in one
// transaction via the persistence layer (§4.D). It runs off the session
// loop goroutine (called from the batch timer, a full batch, or a disconnect) so
// DB I/O never blocks the loop that produced the mutation (§5: "the
// mutating call returns before the flush to keep the loop non-blocking").
func (ls *LiveSession) Flush() error {
	ls.dirtyMu.Lock()
	tables := make([]*engine.Table, 0, len(ls.dirtyTables))
	for _, t := range ls.dirtyTables {
		tables = append(tables, t)
	}
	entities := make([]*engine.Entity, 0, len(ls.dirtyEntities))
	for _, e := range ls.dirtyEntities {
		entities = append(entities, e)
	}
	characters := make([]*engine.Character, 0, len(ls.dirtyCharacters))
	for _, c := range ls.dirtyCharacters {
		characters = append(characters, c)
	}
	ls.dirtyTables = make(map[string]*engine.Table)
	ls.dirtyEntities = make(map[string]*engine.Entity)
	ls.dirtyCharacters = make(map[string]*engine.Character)
	if ls.flushTimer != nil {
		ls.flushTimer.Stop()
		ls.flushTimer = nil
	}
	ls.dirtyMu.Unlock()

	return ls.db.FlushBatch(tables, entities, characters)
}

// PersistCharacterNow writes a character through immediately, bypassing
// the batch queue. Character saves are one of the operations §5 calls out
// as having durability as part of their success contract, so the caller
// waits for the write before acknowledging the save.
func (ls *LiveSession) PersistCharacterNow(c *engine.Character) error {
	return ls.db.SaveCharacter(c)
}

// PersistEntityDelete removes a staged-or-clean entity from both the dirty
// set and the store in one call, so a delete that races a pending flush can
// never resurrect the row it just removed.
func (ls *LiveSession) PersistEntityDelete(entityID string) error {
	ls.dirtyMu.Lock()
	delete(ls.dirtyEntities, entityID)
	ls.dirtyMu.Unlock()
	return ls.db.DeleteEntity(entityID)
}

// PersistTableDelete is PersistEntityDelete's table-level counterpart.
func (ls *LiveSession) PersistTableDelete(tableID string) error {
	ls.dirtyMu.Lock()
	delete(ls.dirtyTables, tableID)
	ls.dirtyMu.Unlock()
	return ls.db.DeleteTable(tableID)
}
