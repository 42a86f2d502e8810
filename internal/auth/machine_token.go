package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	machineTokenPrefix = "occ_"
	secretBytes        = 32
)

// MachineToken is a newly generated token for a test bench or HMI. Only
// Hash belongs in auth.machine_tokens; Token is shown once.
type MachineToken struct {
	ID    uuid.UUID
	Token string
	Hash  string
}

// GenerateMachineToken creates a token of the form occ_<uuid>_<hex secret>.
func GenerateMachineToken() (MachineToken, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return MachineToken{}, fmt.Errorf("failed to generate secret: %w", err)
	}

	id := uuid.New()
	token := machineTokenPrefix + id.String() + "_" + hex.EncodeToString(secret)
	return MachineToken{ID: id, Token: token, Hash: HashMachineToken(token)}, nil
}

// HashMachineToken returns the hex SHA-256 stored in the config.
func HashMachineToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func validMachineToken(token string) bool {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || len(secret) != 2*secretBytes {
		return false
	}
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
