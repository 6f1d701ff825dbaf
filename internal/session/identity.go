// Package session derives call identities and issues short-lived credentials
// for joining a live consultation.
package session

import (
	"crypto/md5"
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the media role inside a channel. Values follow the RTC provider.
type Role int

const (
	RolePublisher  Role = 1
	RoleSubscriber Role = 2
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	}
	return "unknown"
}

const channelPrefix = "ks"

var channelPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// NumericUID maps a user id to a stable 32-bit identity: the first four bytes of md5(id).
// The value is independent of the call, so the same user gets the same uid everywhere.
func NumericUID(userID uuid.UUID) uint32 {
	sum := md5.Sum([]byte(userID.String()))
	return binary.BigEndian.Uint32(sum[:4])
}

// ChannelName builds "ks-<first 8 hex of id>-<base36 millis>".
func ChannelName(consultationID uuid.UUID, at time.Time) string {
	short := strings.ReplaceAll(consultationID.String(), "-", "")[:8]
	return channelPrefix + "-" + short + "-" + strconv.FormatInt(at.UnixMilli(), 36)
}

func ValidChannelName(name string) bool {
	return channelPattern.MatchString(name)
}
