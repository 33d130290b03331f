package core

import (
	"github.com/orrn/netprint/internal/printer"
)

const DefaultKnownGoodLimit = 50

// knownGoodList is a most-recent-first list of stable printer ids that were
// seen idle. Only these may be published without a capability profile.
type knownGoodList struct {
	ids   []printer.ID
	limit int
}

func newKnownGoodList(limit int) *knownGoodList {
	if limit <= 0 {
		limit = DefaultKnownGoodLimit
	}
	return &knownGoodList{limit: limit}
}

// push moves id to the front, trimming the oldest entries past the limit.
// Transient ids are ignored.
func (k *knownGoodList) push(id printer.ID) bool {
	if !id.IsStable() {
		return false
	}
	if len(k.ids) > 0 && k.ids[0] == id {
		return false
	}
	k.remove(id)
	k.ids = append([]printer.ID{id}, k.ids...)
	if len(k.ids) > k.limit {
		k.ids = k.ids[:k.limit]
	}
	return true
}

func (k *knownGoodList) remove(id printer.ID) {
	for i, existing := range k.ids {
		if existing == id {
			k.ids = append(k.ids[:i], k.ids[i+1:]...)
			return
		}
	}
}

func (k *knownGoodList) contains(id printer.ID) bool {
	for _, existing := range k.ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (k *knownGoodList) strings() []string {
	out := make([]string, len(k.ids))
	for i, id := range k.ids {
		out[i] = id.String()
	}
	return out
}

// load replaces the list with persisted ids, skipping anything unparsable.
func (k *knownGoodList) load(raw []string) (skipped int) {
	k.ids = k.ids[:0]
	for _, s := range raw {
		id, err := printer.ParseID(s)
		if err != nil || !id.IsStable() || k.contains(id) {
			skipped++
			continue
		}
		k.ids = append(k.ids, id)
		if len(k.ids) == k.limit {
			break
		}
	}
	return skipped
}
