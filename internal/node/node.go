// Package node owns the data directory of one LiteMQ process: an exclusive
// lock that keeps a second broker from opening the same files, and a
// persistent ULID identity reported by the health endpoints.
package node

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

const (
	nodeIDFile = "node_id"
	lockFile   = "litemq.lock"
)

// ErrLocked is returned by Open when another process holds the data directory.
var ErrLocked = errors.New("node: data directory is in use by another process")

// ID is a ULID string that uniquely identifies a LiteMQ data directory.
// It is stable across restarts.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool { return id == "" }

// Node holds the identity and directory lock of this server instance.
type Node struct {
	id      ID
	dataDir string
	started time.Time
	lock    *flock.Flock
}

// Open creates dataDir if needed, locks it, and loads its ID from
// dataDir/node_id, generating one on first start. A non-empty idOverride
// other than "auto" replaces the persisted ID for this run.
func Open(dataDir, idOverride string) (*Node, error) {
	if dataDir == "" {
		return nil, errors.New("node: dataDir must not be empty")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("node: lock data dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dataDir)
	}

	id, err := resolveID(dataDir, idOverride)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &Node{id: id, dataDir: dataDir, started: time.Now(), lock: lock}, nil
}

// ID returns the node's stable ULID.
func (n *Node) ID() ID { return n.id }

// DataDir returns the root data directory for this node.
func (n *Node) DataDir() string { return n.dataDir }

// Uptime is the time since Open.
func (n *Node) Uptime() time.Duration { return time.Since(n.started) }

// Close releases the data directory lock.
func (n *Node) Close() error {
	if err := n.lock.Unlock(); err != nil {
		return fmt.Errorf("node: unlock data dir: %w", err)
	}
	return nil
}

func resolveID(dataDir, override string) (ID, error) {
	if override != "" && override != "auto" {
		if _, err := ulid.ParseStrict(override); err != nil {
			return "", fmt.Errorf("node: invalid id override %q: %w", override, err)
		}
		return ID(override), nil
	}

	path := filepath.Join(dataDir, nodeIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := ulid.ParseStrict(id); err != nil {
			return "", fmt.Errorf("node: persisted id %q is invalid: %w", id, err)
		}
		return ID(id), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("node: read id file: %w", err)
	}

	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("node: generate id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("node: persist id: %w", err)
	}
	return ID(id), nil
}

// A single monotonic entropy source keeps IDs generated in the same
// millisecond ordered.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a fresh time-ordered ULID. Also used for request IDs.
func NewID() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is like NewID but panics on error.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("node.MustNewID: %v", err))
	}
	return id
}
