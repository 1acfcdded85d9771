package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

// Directory serves listings and user profiles from memory.
type Directory struct {
	mu       sync.RWMutex
	listings map[string]domainchat.ListingSummary
	profiles map[string]domainchat.Profile
}

func NewDirectory() *Directory {
	return &Directory{
		listings: make(map[string]domainchat.ListingSummary),
		profiles: make(map[string]domainchat.Profile),
	}
}

func (d *Directory) PutListing(l domainchat.ListingSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.Images = append([]string(nil), l.Images...)
	d.listings[l.ID] = l
}

func (d *Directory) PutProfile(p domainchat.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *Directory) ListingsOwnedBy(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for id, l := range d.listings {
		if l.OwnerID == userID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *Directory) Listings(_ context.Context, ids []string) (map[string]domainchat.ListingSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]domainchat.ListingSummary, len(ids))
	for _, id := range ids {
		if l, ok := d.listings[id]; ok {
			l.Images = append([]string(nil), l.Images...)
			out[id] = l
		}
	}
	return out, nil
}

func (d *Directory) Profiles(_ context.Context, ids []string) (map[string]domainchat.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]domainchat.Profile, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// DirectoryFixtures is the on-disk fixtures format.
type DirectoryFixtures struct {
	Listings []listingFixture `json:"listings"`
	Users    []userFixture    `json:"users"`
}

type listingFixture struct {
	ID     string   `json:"id"`
	Owner  string   `json:"owner"`
	Title  string   `json:"title"`
	Images []string `json:"images"`
}

type userFixture struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Email     string `json:"email"`
}

// LoadFixtures reads listings and users from path. A missing file loads nothing.
// Entries without an id are skipped; the count of loaded entries is returned.
func (d *Directory) LoadFixtures(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read fixtures: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return 0, nil
	}
	var fx DirectoryFixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return 0, fmt.Errorf("decode fixtures: %w", err)
	}
	loaded := 0
	for _, l := range fx.Listings {
		if strings.TrimSpace(l.ID) == "" {
			continue
		}
		d.PutListing(domainchat.ListingSummary{ID: l.ID, OwnerID: l.Owner, Title: l.Title, Images: l.Images})
		loaded++
	}
	for _, u := range fx.Users {
		if strings.TrimSpace(u.ID) == "" {
			continue
		}
		d.PutProfile(domainchat.Profile{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL, Email: u.Email})
		loaded++
	}
	return loaded, nil
}

var _ appchat.Directory = (*Directory)(nil)
