package conversation

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/originprotocol/origin-messaging-go/codec"
	"github.com/originprotocol/origin-messaging-go/room"
)

// Room is the engine's in-memory view of one conversation: its symmetric
// keystore, the decrypted messages seen so far, and the highest
// conversation index applied locally.
type Room struct {
	ID                    string
	Keys                  *room.Keystore
	Messages              []*codec.DecryptedMessage
	LastConversationIndex int
}

func newRoom(id string) *Room {
	return &Room{ID: id, Keys: room.NewKeystore(), LastConversationIndex: -1}
}

// RoomID deterministically names the two-party room between a and b: the
// lower checksummed address first, joined with "-", so either participant
// computes the same id independently (§3).
func RoomID(a, b common.Address) string {
	ah, bh := a.Hex(), b.Hex()
	if strings.Compare(ah, bh) <= 0 {
		return ah + "-" + bh
	}
	return bh + "-" + ah
}
