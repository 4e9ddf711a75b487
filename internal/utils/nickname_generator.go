package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"Lucky", "Bold", "Steady", "Reckless", "Cosmic",
	"Silent", "Wild", "Golden", "Iron", "Silver",
	"Orbital", "Bright", "Stellar", "Shadow", "Blazing",
	"Frozen", "Nimble", "Daring", "Patient", "Diamond",
}

var nouns = []string{
	"Rocket", "Comet", "Pilot", "Nova", "Meteor",
	"Orbit", "Booster", "Lander", "Pulsar", "Quasar",
	"Falcon", "Voyager", "Astro", "Shuttle", "Capsule",
	"Nebula", "Zenith", "Apollo", "Vector", "Thruster",
}

func pick(n int) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// GenerateNickname creates a random nickname in the format "Adjective_Noun_XXXX"
func GenerateNickname() (string, error) {
	adj, err := pick(len(adjectives))
	if err != nil {
		return "", fmt.Errorf("failed to generate random adjective: %w", err)
	}
	noun, err := pick(len(nouns))
	if err != nil {
		return "", fmt.Errorf("failed to generate random noun: %w", err)
	}
	suffix, err := pick(10000)
	if err != nil {
		return "", fmt.Errorf("failed to generate random suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s_%04d", adjectives[adj], nouns[noun], suffix), nil
}
