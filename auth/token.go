package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/austinwade/sitechat/types"
)

// Presence-channel authorization in the style of pusher-compatible servers:
// the server signs socketId:channelName:memberJSON with the app secret, the
// resulting token is "appKey:signature". Tokens are requested anew for every
// subscribe attempt and never cached across reconnects.

type AuthRequest struct {
	SocketId string       `json:"socket_id"`
	Channel  string       `json:"channel"`
	Member   types.Member `json:"member"`
}

type AuthResponse struct {
	Auth string `json:"auth"`
}

// Sign produces the authorization token permitting the given socket to join
// the named presence channel as the claimed member.
func Sign(appKey, appSecret, socketId, channel string, member types.Member) (string, error) {
	if socketId == "" || channel == "" {
		return "", fmt.Errorf("socket id and channel are required")
	}
	payload, err := json.Marshal(member)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	fmt.Fprintf(mac, "%s:%s:%s", socketId, channel, payload)
	return appKey + ":" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a token against the expected signature for the given socket,
// channel and member.
func Verify(token, appKey, appSecret, socketId, channel string, member types.Member) bool {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 || parts[0] != appKey {
		return false
	}
	expected, err := Sign(appKey, appSecret, socketId, channel, member)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(token), []byte(expected))
}
