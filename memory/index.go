package memory

import "sync"

// collectionIndex maps memory IDs to the collection holding them so that
// Update and Delete can address a memory without a user ID.
type collectionIndex struct {
	mu   sync.RWMutex
	byID map[string]string
}

func newCollectionIndex() *collectionIndex {
	return &collectionIndex{byID: make(map[string]string)}
}

func (x *collectionIndex) get(id string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	name, ok := x.byID[id]
	return name, ok
}

func (x *collectionIndex) put(id, collection string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byID[id] = collection
}

func (x *collectionIndex) remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.byID, id)
}

// purge removes every ID held by collection and returns how many were
// dropped.
func (x *collectionIndex) purge(collection string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for id, name := range x.byID {
		if name == collection {
			delete(x.byID, id)
			n++
		}
	}
	return n
}

func (x *collectionIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}
