// Package transport abstracts the remote-storage capability the orchestrator
// delegates to: copying archives out, listing, deleting and verifying them.
package transport

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/mklein/backhaul/internal/models"
)

// LocalTargetName is the reserved target name served by the local-directory
// transport instead of rclone.
const LocalTargetName = "local"

// Entry is one remote file as reported by List.
type Entry struct {
	Name string
	Size int64
}

// Transport is the narrow interface every backend must provide. The
// orchestrator depends only on this capability, never on a specific backend.
type Transport interface {
	// Copy transfers a local file to remoteRef, keeping its name.
	// limitKBps is a shared bandwidth ceiling; 0 means unlimited.
	Copy(ctx context.Context, localPath, remoteRef string, limitKBps int) error
	// List returns the files directly under remoteRef.
	List(ctx context.Context, remoteRef string) ([]Entry, error)
	// Delete removes a single remote file.
	Delete(ctx context.Context, remoteRef string) error
	// Verify compares the local file against the remote copy.
	Verify(ctx context.Context, localPath, remoteRef string) (bool, error)
}

// Ref builds the remote reference for a file name on a target. An empty name
// references the target directory itself. Local targets use plain filesystem
// paths; everything else uses rclone "remote:path" notation.
func Ref(target models.RemoteTarget, name string) string {
	if target.Name == LocalTargetName {
		if name == "" {
			return target.Path
		}
		return filepath.Join(target.Path, name)
	}
	return target.Name + ":" + path.Join(target.Path, name)
}

// Mux dispatches between the local-directory transport and rclone based on
// the reference shape: refs without a remote prefix are local paths.
type Mux struct {
	rclone Transport
	local  Transport
}

// NewMux creates a transport that routes each call to the right backend.
func NewMux(rclone, local Transport) *Mux {
	return &Mux{rclone: rclone, local: local}
}

func (m *Mux) pick(remoteRef string) Transport {
	// Windows drive letters aside, rclone refs always look like "remote:path".
	if strings.Contains(remoteRef, ":") && !filepath.IsAbs(remoteRef) {
		return m.rclone
	}
	return m.local
}

func (m *Mux) Copy(ctx context.Context, localPath, remoteRef string, limitKBps int) error {
	return m.pick(remoteRef).Copy(ctx, localPath, remoteRef, limitKBps)
}

func (m *Mux) List(ctx context.Context, remoteRef string) ([]Entry, error) {
	return m.pick(remoteRef).List(ctx, remoteRef)
}

func (m *Mux) Delete(ctx context.Context, remoteRef string) error {
	return m.pick(remoteRef).Delete(ctx, remoteRef)
}

func (m *Mux) Verify(ctx context.Context, localPath, remoteRef string) (bool, error) {
	return m.pick(remoteRef).Verify(ctx, localPath, remoteRef)
}
