package harness

import (
	"sync"
	"testing"
)

func TestCollector(t *testing.T) {
	c := &Collector{}

	c.Add(Record{Query: 0, Success: true})
	c.Add(Record{Query: 1, Success: false, Error: "boom"})

	records := c.Records()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	// The returned slice is a copy
	records[0].Query = 99
	if c.Records()[0].Query != 0 {
		t.Error("Expected collector records to be unaffected by caller mutation")
	}
}

func TestCollectorConcurrentAdds(t *testing.T) {
	c := &Collector{}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(Record{Query: i})
		}(i)
	}
	wg.Wait()

	records := c.Records()
	if len(records) != n {
		t.Fatalf("Expected %d records, got %d", n, len(records))
	}

	seen := map[int]bool{}
	for _, r := range records {
		if seen[r.Query] {
			t.Errorf("Expected unique queries, saw %d twice", r.Query)
		}
		seen[r.Query] = true
	}
}
