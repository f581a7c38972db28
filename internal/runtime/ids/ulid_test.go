package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewMessageIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := range ids {
		ids[i] = NewMessageID()
	}

	for i, id := range ids {
		if len(id) != 26 {
			t.Fatalf("expected ULID length 26, got %d", len(id))
		}
		if _, err := ulid.Parse(id); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
		if i > 0 && ids[i-1] >= id {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], id)
		}
	}
}

func TestGeneratorConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	gen := NewGenerator(nil)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := gen.New()
				mu.Lock()
				if _, ok := seen[id]; ok {
					t.Errorf("duplicate ULID generated: %s", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique ULIDs, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestTimeRoundTrip(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator(nil)
	gen.now = func() time.Time { return fixed }

	got, err := Time(gen.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(fixed) {
		t.Fatalf("expected %s, got %s", fixed, got)
	}

	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
}
