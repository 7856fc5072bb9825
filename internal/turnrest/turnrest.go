// Package turnrest mints coturn-compatible TURN REST credentials for call
// participants.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Algorithm (coturn-compatible):
//
//	username   = <unix_expiry_timestamp>:<prefix>:<identity>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/kaahochat/signalcore/internal/ratelimit"
)

type Generator struct {
	sharedSecret []byte
	ttl          time.Duration
	prefix       string
	uris         []string
	clock        ratelimit.Clock
}

type Config struct {
	// SharedSecret must match the static-auth-secret configured on the TURN
	// server.
	SharedSecret string
	// TTL is how long a minted credential stays valid.
	TTL time.Duration
	// Prefix tags usernames so TURN logs attribute traffic to this service.
	Prefix string
	// URIs are the turn:/turns: URIs handed to clients.
	URIs []string
	// Clock is swapped out in tests.
	Clock ratelimit.Clock
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turnrest: TTL must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "signalcore"
	}
	if strings.ContainsRune(cfg.Prefix, ':') {
		return nil, errors.New("turnrest: prefix must not contain ':'")
	}
	if len(cfg.URIs) == 0 {
		return nil, errors.New("turnrest: at least one TURN URI is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	return &Generator{
		sharedSecret: []byte(cfg.SharedSecret),
		ttl:          cfg.TTL,
		prefix:       cfg.Prefix,
		uris:         cfg.URIs,
		clock:        cfg.Clock,
	}, nil
}

// Credentials is the JSON shape served to clients requesting relay access.
type Credentials struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	ExpiryUnix int64    `json:"expiry"`
	URIs       []string `json:"uris"`
}

// ForIdentity mints credentials tied to the given user identity, so a leaked
// credential expires on its own and is attributable.
func (g *Generator) ForIdentity(identity string) (Credentials, error) {
	if identity == "" {
		return Credentials{}, errors.New("turnrest: identity is required")
	}
	if strings.ContainsRune(identity, ':') {
		return Credentials{}, errors.New("turnrest: identity must not contain ':'")
	}
	expiry := g.clock.Now().UTC().Unix() + int64(g.ttl/time.Second)
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, identity)

	mac := hmac.New(sha1.New, g.sharedSecret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
		URIs:       g.uris,
	}, nil
}

// ICEServer is ForIdentity in the shape RTCPeerConnection configuration
// expects.
func (g *Generator) ICEServer(identity string) (webrtc.ICEServer, error) {
	creds, err := g.ForIdentity(identity)
	if err != nil {
		return webrtc.ICEServer{}, err
	}
	return webrtc.ICEServer{
		URLs:           creds.URIs,
		Username:       creds.Username,
		Credential:     creds.Credential,
		CredentialType: webrtc.ICECredentialTypePassword,
	}, nil
}
