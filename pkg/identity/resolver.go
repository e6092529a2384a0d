// Package identity maps OS principals to remote store accounts.
//
// The Resolver keeps two maps, name to uid and uid to Principal, seeded with
// the proxy admin principal at uid 0. Other principals are looked up in a
// DirectoryProvider on first use and kept until the maps are purged. A purge
// happens when the watched account database files (by default /etc/passwd
// and /etc/shadow) change, so that deleted or renamed OS accounts stop being
// trusted.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/metrics"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

const (
	NobodyUID  = 65534
	NobodyGID  = 65534
	NobodyName = "nobody"

	// ProxyUID is the uid the proxy admin principal is registered at.
	ProxyUID = 0

	DefaultPurgeInterval = 10 * time.Minute
)

// DefaultWatchFiles are the account database files checked for changes.
var DefaultWatchFiles = []string{"/etc/passwd", "/etc/shadow"}

// ErrUserNotFound is returned when a uid is unknown to the directory.
var ErrUserNotFound = errors.New("user not found")

// Principal is an identity the server acts as: an OS account bound to the
// remote account used on its behalf.
type Principal struct {
	Name    string
	UID     int
	GID     int
	Account remote.Account
}

// Options configures a Resolver.
type Options struct {
	// Remote account settings shared by every principal.
	Host                 string
	Port                 int
	Zone                 string
	DefaultResource      string
	SSLNegotiationPolicy string

	// ProxyUser and ProxyPassword are the admin credentials every session
	// authenticates with.
	ProxyUser     string
	ProxyPassword string

	// Nobody identity returned when a name cannot be resolved. Zero values
	// default to NobodyUID, NobodyGID and NobodyName.
	NobodyUID  int
	NobodyGID  int
	NobodyName string

	// WatchFiles defaults to DefaultWatchFiles.
	WatchFiles []string

	// PurgeInterval is how often Run checks WatchFiles. Defaults to
	// DefaultPurgeInterval.
	PurgeInterval time.Duration

	Metrics metrics.IdentityMetrics

	// ModTime replaces the file modification time lookup, for tests.
	ModTime func(path string) (time.Time, error)
}

func (o *Options) applyDefaults() {
	if o.NobodyUID == 0 {
		o.NobodyUID = NobodyUID
	}
	if o.NobodyGID == 0 {
		o.NobodyGID = NobodyGID
	}
	if o.NobodyName == "" {
		o.NobodyName = NobodyName
	}
	if o.WatchFiles == nil {
		o.WatchFiles = DefaultWatchFiles
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = DefaultPurgeInterval
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopIdentityMetrics()
	}
	if o.ModTime == nil {
		o.ModTime = fileModTime
	}
}

func fileModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Resolver resolves uids and names to principals.
//
// Thread safety: lookups take the read lock, inserts and purges the write
// lock. A purge clears and re-seeds both maps while holding the write lock,
// so readers observe either the whole old state or the whole new one. A
// directory answer read before a purge is never inserted after it.
type Resolver struct {
	dir  DirectoryProvider
	opts Options

	mu        sync.RWMutex
	uidByName map[string]int
	byUID     map[int]*Principal
	// generation counts purges; inserts carry the generation their
	// directory lookup started in.
	generation uint64

	group singleflight.Group

	watchMu  sync.Mutex
	modTimes map[string]time.Time
}

// NewResolver builds a resolver seeded with the proxy principal and records
// the current modification times of the watched files.
func NewResolver(dir DirectoryProvider, opts Options) (*Resolver, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory provider is required")
	}
	if opts.ProxyUser == "" {
		return nil, fmt.Errorf("proxy user is required")
	}
	if opts.Zone == "" {
		return nil, fmt.Errorf("zone is required")
	}
	opts.applyDefaults()

	r := &Resolver{
		dir:      dir,
		opts:     opts,
		modTimes: make(map[string]time.Time),
	}
	r.seed()
	for _, f := range opts.WatchFiles {
		r.modTimes[f] = r.modTime(f)
	}
	return r, nil
}

// seed resets both maps to the proxy principal. Callers hold mu or own r.
func (r *Resolver) seed() {
	proxy := r.proxyPrincipal()
	r.uidByName = map[string]int{proxy.Name: proxy.UID}
	r.byUID = map[int]*Principal{proxy.UID: proxy}
	r.opts.Metrics.SetPrincipals(1)
}

func (r *Resolver) proxyPrincipal() *Principal {
	return &Principal{
		Name: r.opts.ProxyUser,
		UID:  ProxyUID,
		GID:  ProxyUID,
		Account: remote.Account{
			Host:                 r.opts.Host,
			Port:                 r.opts.Port,
			User:                 r.opts.ProxyUser,
			Password:             r.opts.ProxyPassword,
			HomeDir:              remote.HomeCollection(r.opts.Zone, r.opts.ProxyUser),
			Zone:                 r.opts.Zone,
			DefaultResource:      r.opts.DefaultResource,
			SSLNegotiationPolicy: r.opts.SSLNegotiationPolicy,
		},
	}
}

// newPrincipal binds a directory entry to a proxied remote account.
func (r *Resolver) newPrincipal(e Entry) *Principal {
	return &Principal{
		Name: e.Name,
		UID:  e.UID,
		GID:  e.GID,
		Account: remote.Account{
			Host:                 r.opts.Host,
			Port:                 r.opts.Port,
			User:                 e.Name,
			Password:             r.opts.ProxyPassword,
			HomeDir:              remote.HomeCollection(r.opts.Zone, e.Name),
			Zone:                 r.opts.Zone,
			DefaultResource:      r.opts.DefaultResource,
			ProxyUser:            r.opts.ProxyUser,
			ProxyZone:            r.opts.Zone,
			SSLNegotiationPolicy: r.opts.SSLNegotiationPolicy,
		},
	}
}

func (r *Resolver) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// store caches p unless a purge ran since generation gen was read.
func (r *Resolver) store(p *Principal, gen uint64) {
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		logger.Debug("identity: dropped lookup that raced a purge", logger.KeyUsername, p.Name)
		return
	}
	r.uidByName[p.Name] = p.UID
	r.byUID[p.UID] = p
	n := len(r.byUID)
	r.mu.Unlock()
	r.opts.Metrics.SetPrincipals(n)
}

// Proxy returns the proxy admin principal.
func (r *Resolver) Proxy() *Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUID[ProxyUID]
}

// Nobody returns the configured nobody uid and gid.
func (r *Resolver) Nobody() (uid, gid int) {
	return r.opts.NobodyUID, r.opts.NobodyGID
}

// Resolve returns the principal for uid, looking it up in the directory on a
// cache miss. It fails with ErrUserNotFound if the directory does not know
// uid.
func (r *Resolver) Resolve(ctx context.Context, uid int) (*Principal, error) {
	r.mu.RLock()
	p, ok := r.byUID[uid]
	r.mu.RUnlock()
	if ok {
		r.opts.Metrics.RecordResolve("cached")
		return p, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(strconv.Itoa(uid), func() (any, error) {
		gen := r.currentGeneration()
		e, err := r.dir.LookupByID(uid)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return nil, fmt.Errorf("uid %d: %w", uid, ErrUserNotFound)
			}
			return nil, fmt.Errorf("directory lookup of uid %d: %w", uid, err)
		}
		p := r.newPrincipal(e)
		r.store(p, gen)
		logger.Debug("identity: principal resolved", logger.KeyUID, uid, logger.KeyUsername, p.Name)
		return p, nil
	})
	if err != nil {
		r.opts.Metrics.RecordResolve("not_found")
		return nil, err
	}
	r.opts.Metrics.RecordResolve("resolved")
	return v.(*Principal), nil
}

// UIDForName returns the uid of name, or the nobody uid if it cannot be
// resolved.
func (r *Resolver) UIDForName(name string) int {
	r.mu.RLock()
	uid, ok := r.uidByName[name]
	r.mu.RUnlock()
	if ok {
		return uid
	}

	p, err := r.lookupName(name)
	if err != nil {
		return r.opts.NobodyUID
	}
	return p.UID
}

// GIDForName returns the gid of name, or the nobody gid if it cannot be
// resolved.
func (r *Resolver) GIDForName(name string) int {
	r.mu.RLock()
	uid, ok := r.uidByName[name]
	var p *Principal
	if ok {
		p = r.byUID[uid]
	}
	r.mu.RUnlock()
	if p != nil {
		return p.GID
	}

	p, err := r.lookupName(name)
	if err != nil {
		return r.opts.NobodyGID
	}
	return p.GID
}

func (r *Resolver) lookupName(name string) (*Principal, error) {
	v, err, _ := r.group.Do("name:"+name, func() (any, error) {
		gen := r.currentGeneration()
		e, err := r.dir.LookupByName(name)
		if err != nil {
			return nil, err
		}
		p := r.newPrincipal(e)
		r.store(p, gen)
		return p, nil
	})
	if err != nil {
		logger.Debug("identity: name not resolved", logger.KeyUsername, name, logger.KeyError, err)
		return nil, err
	}
	return v.(*Principal), nil
}

// Len returns the number of cached principals, the proxy included.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUID)
}

// Purge clears both maps and re-seeds the proxy principal.
func (r *Resolver) Purge() {
	r.mu.Lock()
	dropped := len(r.byUID) - 1
	r.seed()
	r.generation++
	r.mu.Unlock()

	r.opts.Metrics.RecordPurge()
	logger.Info("identity: principal maps purged", "dropped", dropped)
}

// CheckAndPurge purges the maps if any watched file changed since the last
// check and reports whether it did. A missing file has a zero modification
// time.
func (r *Resolver) CheckAndPurge() bool {
	r.watchMu.Lock()
	changed := ""
	for _, f := range r.opts.WatchFiles {
		mt := r.modTime(f)
		if !mt.Equal(r.modTimes[f]) {
			r.modTimes[f] = mt
			if changed == "" {
				changed = f
			}
		}
	}
	r.watchMu.Unlock()

	if changed == "" {
		return false
	}
	logger.Info("identity: account database changed", logger.KeyPath, changed)
	r.Purge()
	return true
}

func (r *Resolver) modTime(path string) time.Time {
	mt, err := r.opts.ModTime(path)
	if err != nil {
		return time.Time{}
	}
	return mt
}

// Run calls CheckAndPurge every PurgeInterval until ctx is done.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PurgeInterval)
	defer ticker.Stop()

	logger.Info("identity: purge task started",
		"interval", r.opts.PurgeInterval.String(),
		"watch_files", r.opts.WatchFiles)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("identity: purge task stopped")
			return
		case <-ticker.C:
			r.CheckAndPurge()
		}
	}
}
