// Package remote defines the contract between the filesystem facade and a
// remote object store made of collections and data objects carrying
// per-user and per-group permissions.
//
// The catalog sub-package implements it, keeping its state in memory or,
// through the badger sub-package, on disk.
package remote

import (
	"fmt"
	"path"
	"time"
)

// ObjectKind is the kind of an object in the remote tree.
type ObjectKind uint8

const (
	// KindUnknown is the zero value; stores never report it for an existing object.
	KindUnknown ObjectKind = iota
	KindCollection
	KindDataObject
	// KindCollectionStandIn is reported for collections whose metadata the
	// querying account may not see. It carries no permissions.
	KindCollectionStandIn
)

func (k ObjectKind) String() string {
	switch k {
	case KindCollection:
		return "COLLECTION"
	case KindDataObject:
		return "DATA_OBJECT"
	case KindCollectionStandIn:
		return "COLLECTION_HEURISTIC_STANDIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Validate reports an error for kinds outside the known set.
func (k ObjectKind) Validate() error {
	switch k {
	case KindCollection, KindDataObject, KindCollectionStandIn:
		return nil
	default:
		return fmt.Errorf("unexpected object kind %s: %w", k, ErrUnexpectedKind)
	}
}

// IsCollection is true for collections and their stand-ins.
func (k ObjectKind) IsCollection() bool {
	return k == KindCollection || k == KindCollectionStandIn
}

// AccessLevel is a permission level. Levels are totally ordered.
type AccessLevel uint8

const (
	LevelNone AccessLevel = iota
	LevelRead
	LevelWrite
	LevelOwn
)

func (l AccessLevel) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelOwn:
		return "own"
	default:
		return "null"
	}
}

// ParseAccessLevel is the inverse of AccessLevel.String.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	case "own":
		return LevelOwn, nil
	case "null", "":
		return LevelNone, nil
	default:
		return LevelNone, fmt.Errorf("unknown access level %q", s)
	}
}

// ActorKind is the kind of account a permission names.
type ActorKind uint8

const (
	ActorUser ActorKind = iota
	ActorGroup
	ActorAdmin
)

func (k ActorKind) String() string {
	switch k {
	case ActorGroup:
		return "rodsgroup"
	case ActorAdmin:
		return "rodsadmin"
	default:
		return "rodsuser"
	}
}

// ParseActorKind is the inverse of ActorKind.String. It also accepts the
// short forms "user", "group" and "admin".
func ParseActorKind(s string) (ActorKind, error) {
	switch s {
	case "rodsuser", "user", "":
		return ActorUser, nil
	case "rodsgroup", "group":
		return ActorGroup, nil
	case "rodsadmin", "admin":
		return ActorAdmin, nil
	default:
		return ActorUser, fmt.Errorf("unknown actor kind %q", s)
	}
}

// User is an account known to the remote store. Groups are users of kind
// ActorGroup.
type User struct {
	Name string
	ID   string
	Zone string
	Kind ActorKind
}

// Permission is one explicit permission entry attached to a path.
type Permission struct {
	Name  string
	ID    string
	Zone  string
	Kind  ActorKind
	Level AccessLevel
}

// Equal compares actor identity and level.
func (p Permission) Equal(o Permission) bool {
	return p.ID == o.ID &&
		p.Name == o.Name &&
		p.Zone == o.Zone &&
		p.Kind == o.Kind &&
		p.Level == o.Level
}

func (p Permission) String() string {
	return fmt.Sprintf("%s#%s:%s(%s)", p.Name, p.Zone, p.Level, p.Kind)
}

// ObjStat is the metadata of a single remote object.
type ObjStat struct {
	Path       string
	Kind       ObjectKind
	Size       int64
	OwnerName  string
	OwnerZone  string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Entry is one child returned by a listing.
type Entry struct {
	Name string
	Kind ObjectKind
}

// Account holds the credentials a session is opened with.
//
// When ProxyUser is set the session authenticates as the proxy account and
// acts on behalf of User; Password is then the proxy password.
type Account struct {
	Host                 string
	Port                 int
	User                 string
	Password             string
	HomeDir              string
	Zone                 string
	DefaultResource      string
	ProxyUser            string
	ProxyZone            string
	SSLNegotiationPolicy string
}

// HomeCollection returns /<zone>/home/<user>.
func HomeCollection(zone, user string) string {
	return path.Join("/", zone, "home", user)
}

func (a Account) String() string {
	if a.ProxyUser != "" {
		return fmt.Sprintf("%s#%s (via %s@%s:%d)", a.User, a.Zone, a.ProxyUser, a.Host, a.Port)
	}
	return fmt.Sprintf("%s#%s@%s:%d", a.User, a.Zone, a.Host, a.Port)
}
