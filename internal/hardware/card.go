// Package hardware locates the sound card and reports its availability.
// It reads the card state node exposed by the audio DSP driver and the
// card list in /proc/asound.
package hardware

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/alsa"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// ErrCardNotFound is returned by DetectCard when no card matches.
var ErrCardNotFound = errors.New("hardware: sound card not found")

// ReadCardState reads and parses the card state node at path.
func ReadCardState(path string) (models.CardStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.CardStatusOffline, fmt.Errorf("card state: read %s: %w", path, err)
	}
	state, err := models.ParseCardStatus(string(data))
	if err != nil {
		return models.CardStatusOffline, fmt.Errorf("card state: %w", err)
	}
	return state, nil
}

// Cards lists the sound cards known to the kernel.
func Cards() ([]alsa.SoundCard, error) {
	cards, err := alsa.EnumerateCards()
	if err != nil {
		return nil, fmt.Errorf("hardware: enumerate cards: %w", err)
	}
	return cards, nil
}

// DetectCard returns the index of the card whose id or description
// matches name, ignoring case.
func DetectCard(name string) (uint, error) {
	cards, err := Cards()
	if err != nil {
		return 0, err
	}
	return findCard(cards, name)
}

func findCard(cards []alsa.SoundCard, name string) (uint, error) {
	for _, c := range cards {
		if strings.EqualFold(c.Name, name) || strings.EqualFold(c.Description, name) {
			return uint(c.ID), nil
		}
	}
	// Fall back to a substring of the description, e.g. "Loopback" for
	// "Loopback - Loopback".
	for _, c := range cards {
		if strings.Contains(strings.ToLower(c.Description), strings.ToLower(name)) {
			return uint(c.ID), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrCardNotFound, name)
}
