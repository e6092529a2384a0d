package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moby/sys/user"
)

// ErrEntryNotFound is returned by a DirectoryProvider for unknown accounts.
var ErrEntryNotFound = errors.New("account not found in directory")

// Entry is one OS account.
type Entry struct {
	Name string
	UID  int
	GID  int
}

// DirectoryProvider looks up OS accounts.
type DirectoryProvider interface {
	LookupByName(name string) (Entry, error)
	LookupByID(uid int) (Entry, error)
}

// PasswdProvider reads accounts from a passwd(5) formatted file on every
// lookup. The file is small and the resolver caches results.
type PasswdProvider struct {
	path string
}

// NewPasswdProvider returns a provider reading path, or /etc/passwd when
// path is empty.
func NewPasswdProvider(path string) *PasswdProvider {
	if path == "" {
		path = "/etc/passwd"
	}
	return &PasswdProvider{path: path}
}

func (p *PasswdProvider) LookupByName(name string) (Entry, error) {
	return p.lookup(fmt.Sprintf("name %q", name), func(u user.User) bool {
		return u.Name == name
	})
}

func (p *PasswdProvider) LookupByID(uid int) (Entry, error) {
	return p.lookup(fmt.Sprintf("uid %d", uid), func(u user.User) bool {
		return u.Uid == uid
	})
}

func (p *PasswdProvider) lookup(what string, match func(user.User) bool) (Entry, error) {
	users, err := user.ParsePasswdFileFilter(p.path, match)
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", p.path, err)
	}
	if len(users) == 0 {
		return Entry{}, fmt.Errorf("%s: %w", what, ErrEntryNotFound)
	}
	u := users[0]
	return Entry{Name: u.Name, UID: u.Uid, GID: u.Gid}, nil
}

// StaticProvider is an in-memory DirectoryProvider.
type StaticProvider struct {
	mu     sync.RWMutex
	byName map[string]Entry
	byID   map[int]Entry
}

func NewStaticProvider(entries ...Entry) *StaticProvider {
	p := &StaticProvider{
		byName: make(map[string]Entry),
		byID:   make(map[int]Entry),
	}
	for _, e := range entries {
		p.Add(e)
	}
	return p
}

// Add registers e, replacing any entry with the same name or uid.
func (p *StaticProvider) Add(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[e.Name] = e
	p.byID[e.UID] = e
}

// Remove drops the account with the given name.
func (p *StaticProvider) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byName[name]; ok {
		delete(p.byName, name)
		delete(p.byID, e.UID)
	}
}

func (p *StaticProvider) LookupByName(name string) (Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byName[name]
	if !ok {
		return Entry{}, fmt.Errorf("name %q: %w", name, ErrEntryNotFound)
	}
	return e, nil
}

func (p *StaticProvider) LookupByID(uid int) (Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byID[uid]
	if !ok {
		return Entry{}, fmt.Errorf("uid %d: %w", uid, ErrEntryNotFound)
	}
	return e, nil
}
