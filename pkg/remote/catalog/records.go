package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/rodsnfs/pkg/content"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// Key schema:
//
//	obj/<path>               -> objectRecord (JSON)
//	dir/<parent>\x00<name>   -> one byte, the child's ObjectKind
//	usr/<name>               -> userRecord (JSON)
//	seq/user                 -> next user ID (decimal)
const (
	prefixObject = "obj/"
	prefixChild  = "dir/"
	prefixUser   = "usr/"
	keyUserSeq   = "seq/user"

	firstUserID = 10000
)

func keyObject(path string) []byte {
	return []byte(prefixObject + path)
}

func keyChild(parent, name string) []byte {
	return []byte(prefixChild + parent + "\x00" + name)
}

func childPrefix(parent string) []byte {
	return []byte(prefixChild + parent + "\x00")
}

func keyUser(name string) []byte {
	return []byte(prefixUser + name)
}

// objectRecord is the persisted form of a collection or data object.
type objectRecord struct {
	Kind       remote.ObjectKind             `json:"kind"`
	Size       int64                         `json:"size"`
	Owner      string                        `json:"owner"`
	OwnerZone  string                        `json:"owner_zone"`
	CreatedAt  time.Time                     `json:"created_at"`
	ModifiedAt time.Time                     `json:"modified_at"`
	ContentID  content.ContentID             `json:"content_id,omitempty"`
	ACL        map[string]remote.AccessLevel `json:"acl"`
}

// userRecord is the persisted form of a user, admin or group account.
type userRecord struct {
	Name         string           `json:"name"`
	ID           string           `json:"id"`
	Zone         string           `json:"zone"`
	Kind         remote.ActorKind `json:"kind"`
	PasswordHash string           `json:"password_hash,omitempty"`
	Groups       []string         `json:"groups,omitempty"`
}

func (u *userRecord) toUser() *remote.User {
	return &remote.User{Name: u.Name, ID: u.ID, Zone: u.Zone, Kind: u.Kind}
}

func (u *userRecord) inGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func getObject(txn Txn, path string) (*objectRecord, error) {
	raw, err := txn.Get(keyObject(path))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", path, remote.ErrNoSuchObject)
	}
	if err != nil {
		return nil, err
	}

	var rec objectRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", path, err)
	}
	if rec.ACL == nil {
		rec.ACL = make(map[string]remote.AccessLevel)
	}
	return &rec, nil
}

func putObject(txn Txn, path string, rec *objectRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode object %s: %w", path, err)
	}
	return txn.Set(keyObject(path), raw)
}

func objectExists(txn Txn, path string) (bool, error) {
	_, err := txn.Get(keyObject(path))
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getUser(txn Txn, name string) (*userRecord, error) {
	raw, err := txn.Get(keyUser(name))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", name, remote.ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}

	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", name, err)
	}
	return &rec, nil
}

func putUser(txn Txn, rec *userRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", rec.Name, err)
	}
	return txn.Set(keyUser(rec.Name), raw)
}

func nextUserID(txn Txn) (string, error) {
	next := firstUserID
	raw, err := txn.Get([]byte(keyUserSeq))
	switch {
	case err == nil:
		next, err = strconv.Atoi(string(raw))
		if err != nil {
			return "", fmt.Errorf("decode user sequence: %w", err)
		}
	case !errors.Is(err, ErrKeyNotFound):
		return "", err
	}

	if err := txn.Set([]byte(keyUserSeq), []byte(strconv.Itoa(next+1))); err != nil {
		return "", err
	}
	return strconv.Itoa(next), nil
}

// listChildren returns the entries directly below parent, sorted by name.
func listChildren(txn Txn, parent string) ([]remote.Entry, error) {
	prefix := childPrefix(parent)
	var entries []remote.Entry
	err := txn.Scan(prefix, func(key, value []byte) error {
		kind := remote.KindUnknown
		if len(value) == 1 {
			kind = remote.ObjectKind(value[0])
		}
		entries = append(entries, remote.Entry{
			Name: string(key[len(prefix):]),
			Kind: kind,
		})
		return nil
	})
	return entries, err
}

// splitPath returns the parent and base name of a cleaned absolute path.
func splitPath(p string) (string, string) {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/", p[i+1:]
	}
	return p[:i], p[i+1:]
}
