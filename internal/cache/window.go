package cache

import (
	"time"
	"unsafe"

	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
)

// Rough per-object footprints used for the size gauge.
const (
	entrySize = int64(unsafe.Sizeof(entry{})) + int64(unsafe.Sizeof(propagation.Keyframe{}))
	slotSize  = 16 // map key + pointer
	bodySize  = int64(unsafe.Sizeof(propagation.BodyPosition{}))
	moonSize  = int64(unsafe.Sizeof(kepler.Vec3{}))
)

type entry struct {
	kf          *propagation.Keyframe
	generatedAt time.Time
	size        int64
}

// window indexes keyframes by step number since the Unix epoch. It is not
// safe for concurrent use.
type window struct {
	step  time.Duration
	slots map[int64]*entry
	bytes int64
}

func newWindow(step time.Duration, capacity int) *window {
	return &window{step: step, slots: make(map[int64]*entry, capacity)}
}

func (w *window) slot(t time.Time) int64 { return slotOf(t, w.step) }

func (w *window) timeOf(slot int64) time.Time { return slotTime(slot, w.step) }

// slotOf returns floor(t / step) counted from the Unix epoch.
func slotOf(t time.Time, step time.Duration) int64 {
	n, s := t.UnixNano(), int64(step)
	q := n / s
	if n%s < 0 {
		q--
	}
	return q
}

func slotTime(slot int64, step time.Duration) time.Time {
	return time.Unix(0, slot*int64(step)).UTC()
}

func (w *window) get(slot int64) *propagation.Keyframe {
	if e, ok := w.slots[slot]; ok {
		return e.kf
	}
	return nil
}

func (w *window) put(kf *propagation.Keyframe) {
	slot := w.slot(kf.Timestamp)
	if old, ok := w.slots[slot]; ok {
		w.bytes -= old.size
	}
	e := &entry{kf: kf, generatedAt: time.Now(), size: keyframeSize(kf)}
	w.slots[slot] = e
	w.bytes += e.size
}

// dropBefore removes every slot older than cutoff.
func (w *window) dropBefore(cutoff int64) int {
	var removed int
	for slot, e := range w.slots {
		if slot < cutoff {
			w.bytes -= e.size
			delete(w.slots, slot)
			removed++
		}
	}
	return removed
}

func (w *window) bounds() (oldest, newest int64, ok bool) {
	for slot := range w.slots {
		if !ok || slot < oldest {
			oldest = slot
		}
		if !ok || slot > newest {
			newest = slot
		}
		ok = true
	}
	return oldest, newest, ok
}

func keyframeSize(kf *propagation.Keyframe) int64 {
	total := entrySize + slotSize
	for _, b := range kf.Bodies {
		total += bodySize + int64(len(b.ID))
		if b.MoonPosition != nil {
			total += moonSize
		}
	}
	return total
}
