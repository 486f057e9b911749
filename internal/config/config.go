package config

import (
	"strings"
	"time"

	"peercall-core/internal/domain"
	"peercall-core/pkg/env"
)

// Config holds the call-core configuration. Everything is loaded from the
// environment; the local identity is explicit configuration rather than an
// ambient current-user handle.
type Config struct {
	Env string

	// Identity of the local user driving this agent.
	Identity domain.Identity

	// Relay (Firestore) settings.
	FirestoreProjectID       string
	FirestoreCredentialsPath string // path to a service account JSON file

	// Call timing policy.
	RingingTimeout     time.Duration // how long a ringing call waits for an answer
	DisconnectGrace    time.Duration // how long a disconnected transport may recover
	NegotiationTimeout time.Duration // transport-level connect deadline, races the ringing timeout

	// ICE servers used by the negotiation primitive.
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNSecret  string

	// Media capture targets for the ideal (first-attempt) constraints.
	VideoWidth     int
	VideoHeight    int
	VideoFrameRate int

	// HTTP agent listen address.
	ListenAddr string
}

// Default STUN list, mirroring the servers the web client ships with.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun.cloudflare.com:3478",
}

// Load reads the configuration from the environment, applying defaults for
// everything except the identity and Firestore project.
func Load() *Config {
	stun := defaultSTUNServers
	if raw := env.GetString("STUN_SERVERS", ""); raw != "" {
		stun = splitList(raw)
	}

	return &Config{
		Env: env.GetString("ENV", "development"),
		Identity: domain.Identity{
			UserID:      env.GetString("CALL_USER_ID", ""),
			DisplayName: env.GetString("CALL_USER_NAME", "Unknown"),
			PhotoURL:    env.GetString("CALL_USER_PHOTO", ""),
		},
		FirestoreProjectID:       env.GetString("FIRESTORE_PROJECT_ID", ""),
		FirestoreCredentialsPath: env.GetString("FIRESTORE_CREDENTIALS_PATH", ""),
		RingingTimeout:           env.GetDuration("CALL_RINGING_TIMEOUT", 60*time.Second),
		DisconnectGrace:          env.GetDuration("CALL_DISCONNECT_GRACE", 10*time.Second),
		NegotiationTimeout:       env.GetDuration("CALL_NEGOTIATION_TIMEOUT", 30*time.Second),
		STUNServers:              stun,
		TURNServer:               env.GetString("TURN_SERVER", ""),
		TURNUser:                 env.GetString("TURN_USERNAME", ""),
		TURNSecret:               env.GetStringFromFile("TURN_CREDENTIAL", ""),
		VideoWidth:               env.GetInt("CALL_VIDEO_WIDTH", 640),
		VideoHeight:              env.GetInt("CALL_VIDEO_HEIGHT", 480),
		VideoFrameRate:           env.GetInt("CALL_VIDEO_FRAMERATE", 15),
		ListenAddr:               env.GetString("CALL_AGENT_ADDR", "127.0.0.1:8087"),
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
