package hardware

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gen2brain/alsa"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

func TestReadCardState(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		content string
		want    models.CardStatus
		wantErr bool
	}{
		{"ONLINE\n", models.CardStatusOnline, false},
		{"OFFLINE", models.CardStatusOffline, false},
		{"  online ", models.CardStatusOnline, false},
		{"BOOTING", models.CardStatusOffline, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, "state")
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := ReadCardState(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ReadCardState(%q) error = %v, wantErr %v", tt.content, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ReadCardState(%q) = %s, want %s", tt.content, got, tt.want)
		}
	}

	if _, err := ReadCardState(filepath.Join(dir, "missing")); err == nil {
		t.Error("ReadCardState(missing) = nil error")
	}
}

func TestFindCard(t *testing.T) {
	cards := []alsa.SoundCard{
		{ID: 0, Name: "vc4hdmi", Description: "vc4-hdmi - vc4-hdmi"},
		{ID: 2, Name: "Loopback", Description: "Loopback - Loopback"},
		{ID: 3, Name: "sndrpihifiberry", Description: "snd_rpi_hifiberry_dacplus"},
	}
	tests := []struct {
		name    string
		want    uint
		wantErr bool
	}{
		{"Loopback", 2, false},
		{"loopback", 2, false},
		{"snd_rpi_hifiberry_dacplus", 3, false},
		{"hifiberry", 3, false},
		{"usb", 0, true},
	}
	for _, tt := range tests {
		got, err := findCard(cards, tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrCardNotFound) {
				t.Errorf("findCard(%q) error = %v, want ErrCardNotFound", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("findCard(%q) = %d, %v; want %d", tt.name, got, err, tt.want)
		}
	}
}

func TestMockNode_RejectsRecovering(t *testing.T) {
	n, err := NewMockNode(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Set(models.CardStatusRecovering); err == nil {
		t.Error("Set(recovering) = nil error")
	}
	if got, _ := ReadCardState(n.Path()); got != models.CardStatusOnline {
		t.Errorf("node = %s, want online", got)
	}
}

func expectState(t *testing.T, ch <-chan models.CardStatus, want models.CardStatus) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("reported %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no report, want %s", want)
	}
}

func TestCardMonitor_ReportsTransitions(t *testing.T) {
	n, err := NewMockNode(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan models.CardStatus, 16)
	m := NewCardMonitor(n.Path(), 10*time.Millisecond, func(s models.CardStatus) error {
		ch <- s
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	expectState(t, ch, models.CardStatusOnline)

	n.Set(models.CardStatusOffline)
	expectState(t, ch, models.CardStatusOffline)

	n.Set(models.CardStatusOnline)
	expectState(t, ch, models.CardStatusOnline)

	// Node removal counts as the card going away.
	n.Remove()
	expectState(t, ch, models.CardStatusOffline)

	// Unchanged state is not reported again.
	select {
	case s := <-ch:
		t.Errorf("unexpected report %s", s)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCardMonitor_MissingNodeIsQuiet(t *testing.T) {
	calls := 0
	m := NewCardMonitor(filepath.Join(t.TempDir(), "state"), time.Second, func(models.CardStatus) error {
		calls++
		return nil
	})
	m.check()
	m.check()
	if calls != 0 {
		t.Errorf("handler called %d times for a node that never existed", calls)
	}
}

func TestCardMonitor_HandlerErrorDoesNotStop(t *testing.T) {
	n, err := NewMockNode(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var got []models.CardStatus
	m := NewCardMonitor(n.Path(), time.Second, func(s models.CardStatus) error {
		got = append(got, s)
		return models.ErrInvalidArgument("rejected")
	})
	m.check()
	n.Set(models.CardStatusOffline)
	m.check()
	if len(got) != 2 || got[1] != models.CardStatusOffline {
		t.Errorf("reports = %v, want [online offline]", got)
	}
}
