package website_test

import (
	"context"
	"sync"
	"testing"

	"github.com/signetd/signet/internal/website"
	"github.com/signetd/signet/internal/website/repositoryimpl"
	"github.com/signetd/signet/pkg/storage"
)

func newStore(t *testing.T) *website.Store {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return website.NewStore(repositoryimpl.NewYAMLRepository(s))
}

func TestStoreGetMissing(t *testing.T) {
	store := newStore(t)
	site, err := store.Get(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if site != nil {
		t.Errorf("Get() = %+v, want nil for unknown domain", site)
	}
}

func TestStoreUpdateCreatesDefault(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	site, err := store.Update(ctx, "https://example.com", func(site *website.WebSite) (bool, error) {
		if site.Auth {
			t.Error("fresh record should not be decided")
		}
		if !site.Permission.Accept || site.Permission.Always || site.Permission.Reject {
			t.Errorf("fresh permission = %+v", site.Permission)
		}
		site.Auth = true
		return true, nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if site.Domain != "https://example.com" {
		t.Errorf("Domain = %q", site.Domain)
	}

	// The write is visible to a subsequent Get.
	got, err := store.Get(ctx, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Auth {
		t.Errorf("Get() after Update = %+v, want persisted record", got)
	}
}

func TestStoreUpdateUnchangedNotPersisted(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Update(ctx, "https://example.com", func(site *website.WebSite) (bool, error) {
		return false, nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	site, err := store.Get(ctx, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if site != nil {
		t.Errorf("unchanged update persisted a record: %+v", site)
	}
}

func TestStoreUpdateConcurrentAppends(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "https://example.com", func(site *website.WebSite) (bool, error) {
				site.History = append(site.History, website.HistoryEntry{Type: "signEvent"})
				return true, nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	site, err := store.Get(ctx, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(site.History) != n {
		t.Errorf("len(History) = %d, want %d", len(site.History), n)
	}
}
