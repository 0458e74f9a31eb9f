package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// machineIDSalt keeps machine ids stable per host while avoiding a
// bare hostname hash.
const machineIDSalt = "agentgate-machine-id-v1"

// GenerateMachineID derives the stable machine identity from the
// hostname: the lowercased hostname with non-alphanumerics stripped,
// a dash, and the first 16 hex chars of SHA256(hostname + salt).
func GenerateMachineID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("reading hostname: %w", err)
	}
	return machineIDFor(hostname), nil
}

func machineIDFor(hostname string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(hostname) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(hostname + machineIDSalt))
	return b.String() + "-" + hex.EncodeToString(sum[:])[:16]
}

// GenerateAuthToken returns 32 random hex characters.
func GenerateAuthToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating auth token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// bootstrapIdentity fills machine_id and auth_token into doc when
// absent. Returns true when the document changed.
func bootstrapIdentity(doc map[string]any) (bool, error) {
	changed := false
	if s, _ := doc["machine_id"].(string); s == "" {
		id, err := GenerateMachineID()
		if err != nil {
			return false, err
		}
		doc["machine_id"] = id
		changed = true
	}
	if s, _ := doc["auth_token"].(string); s == "" {
		token, err := GenerateAuthToken()
		if err != nil {
			return false, err
		}
		doc["auth_token"] = token
		changed = true
	}
	return changed, nil
}
