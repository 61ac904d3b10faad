package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// MockNode is a writable stand-in for the card state node, used by the
// daemon in mock mode and by tests.
type MockNode struct {
	mu   sync.Mutex
	path string
}

// NewMockNode creates dir/state reporting ONLINE.
func NewMockNode(dir string) (*MockNode, error) {
	n := &MockNode{path: filepath.Join(dir, "state")}
	if err := n.Set(models.CardStatusOnline); err != nil {
		return nil, err
	}
	return n, nil
}

// Path returns the node's file path.
func (n *MockNode) Path() string { return n.path }

// Set writes state to the node. Recovering is not a node value.
func (n *MockNode) Set(state models.CardStatus) error {
	if state == models.CardStatusRecovering {
		return models.ErrInvalidArgument("state node is either online or offline")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	// Write-then-rename so a concurrent reader never sees a partial value.
	tmp := n.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.ToUpper(state.String())+"\n"), 0o644); err != nil {
		return fmt.Errorf("mock node: %w", err)
	}
	if err := os.Rename(tmp, n.path); err != nil {
		return fmt.Errorf("mock node: %w", err)
	}
	return nil
}

// Remove deletes the node, as when the card driver unloads.
func (n *MockNode) Remove() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return os.Remove(n.path)
}
