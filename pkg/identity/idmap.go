package identity

import (
	"strconv"
	"strings"
)

// IDMapping translates NFSv4 owner strings to numeric ids and back. Owner
// strings are plain decimal ids, optionally followed by "@domain"; anything
// else maps to nobody.
type IDMapping struct {
	nobodyUID int
	nobodyGID int
}

// NewIDMapping returns a numeric mapping using the given nobody ids.
func NewIDMapping(nobodyUID, nobodyGID int) IDMapping {
	return IDMapping{nobodyUID: nobodyUID, nobodyGID: nobodyGID}
}

func (m IDMapping) PrincipalToUID(principal string) int {
	return parseID(principal, m.nobodyUID)
}

func (m IDMapping) PrincipalToGID(principal string) int {
	return parseID(principal, m.nobodyGID)
}

func (m IDMapping) UIDToPrincipal(uid int) string {
	return strconv.Itoa(uid)
}

func (m IDMapping) GIDToPrincipal(gid int) string {
	return strconv.Itoa(gid)
}

func parseID(principal string, fallback int) int {
	if i := strings.IndexByte(principal, '@'); i >= 0 {
		principal = principal[:i]
	}
	id, err := strconv.Atoi(principal)
	if err != nil || id < 0 {
		return fallback
	}
	return id
}
