package repository

import (
	"strings"

	"github.com/foxseedlab/pokerbot/internal/kv"
)

// Key layout. Every record of a session lives under SESSION#<id> so a single
// partition read returns meta, participants and votes together.
const (
	keySeparator = "#"

	prefixChannel = "CHANNEL#"
	prefixSession = "SESSION#"
	prefixDedup   = "DEDUP#"

	skActiveSession     = "ACTIVE_SESSION"
	skMeta              = "META"
	skParticipantPrefix = "PARTICIPANT#"
	skVotePrefix        = "VOTE#"
	skRequestPrefix     = "REQ#"
)

func ChannelActiveSessionKey(teamID, channelID string) kv.Key {
	return kv.Key{PK: prefixChannel + teamID + keySeparator + channelID, SK: skActiveSession}
}

func SessionMetaKey(sessionID string) kv.Key {
	return kv.Key{PK: sessionPartition(sessionID), SK: skMeta}
}

func ParticipantKey(sessionID, userID string) kv.Key {
	return kv.Key{PK: sessionPartition(sessionID), SK: skParticipantPrefix + userID}
}

func VoteKey(sessionID, userID string) kv.Key {
	return kv.Key{PK: sessionPartition(sessionID), SK: skVotePrefix + userID}
}

func DedupKey(teamID, requestID string) kv.Key {
	return kv.Key{PK: prefixDedup + teamID, SK: skRequestPrefix + requestID}
}

func sessionPartition(sessionID string) string {
	return prefixSession + sessionID
}

// validIdentifier rejects values that would make two identities share a key:
// the separator inside an identifier shifts the composite key boundaries.
func validIdentifier(id string) bool {
	return id != "" && !strings.Contains(id, keySeparator)
}
