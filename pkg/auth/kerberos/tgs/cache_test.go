package tgs

import (
	"sync"
	"testing"
)

func TestReferralCache_GetMiss(t *testing.T) {
	c := NewReferralCache()
	_, ok := c.Get(ReferralKey{CurrentRealm: "EXAMPLE.COM"})
	if ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestReferralCache_PutThenGet(t *testing.T) {
	c := NewReferralCache()
	key := ReferralKey{CurrentRealm: "CHILD.EXAMPLE.COM"}
	cred := Credential{Server: KrbtgtPrincipal("CHILD.EXAMPLE.COM", "EXAMPLE.COM")}

	if !c.Put(key, "EXAMPLE.COM", cred) {
		t.Fatal("expected first Put to report true (new entry)")
	}

	entry, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if entry.ToRealm != "EXAMPLE.COM" {
		t.Fatalf("ToRealm = %q, want EXAMPLE.COM", entry.ToRealm)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestReferralCache_FirstWriterWins(t *testing.T) {
	c := NewReferralCache()
	key := ReferralKey{CurrentRealm: "CHILD.EXAMPLE.COM"}

	if !c.Put(key, "EXAMPLE.COM", Credential{}) {
		t.Fatal("expected first Put to succeed")
	}
	if c.Put(key, "OTHER.COM", Credential{}) {
		t.Fatal("expected second Put on the same key to report false")
	}

	entry, _ := c.Get(key)
	if entry.ToRealm != "EXAMPLE.COM" {
		t.Fatalf("expected first writer's value to win, got ToRealm = %q", entry.ToRealm)
	}
}

func TestReferralCache_ConcurrentAccess(t *testing.T) {
	c := NewReferralCache()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := ReferralKey{CurrentRealm: "EXAMPLE.COM"}
			c.Put(key, "CHILD.EXAMPLE.COM", Credential{})
			c.Get(key)
		}(i)
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (all goroutines share one key)", c.Len())
	}
}
