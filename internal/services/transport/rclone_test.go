package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor is a mock implementation of CommandExecutor for testing.
type mockExecutor struct {
	executeFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
	calls       [][]string
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	if m.executeFunc != nil {
		return m.executeFunc(ctx, name, args...)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testRcloneConfig() models.RcloneConfig {
	return models.RcloneConfig{Binary: "rclone"}
}

func TestRclone_CopyBuildsArgs(t *testing.T) {
	executor := &mockExecutor{}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	err := rc.Copy(context.Background(), "/tmp/a.zip", "gdrive:backups/a.zip", 512)

	require.NoError(t, err)
	require.Len(t, executor.calls, 1)
	assert.Equal(t,
		[]string{"rclone", "copyto", "/tmp/a.zip", "gdrive:backups/a.zip", "--bwlimit", "512k"},
		executor.calls[0])
}

func TestRclone_CopyWithoutLimitOmitsBwlimit(t *testing.T) {
	executor := &mockExecutor{}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	err := rc.Copy(context.Background(), "/tmp/a.zip", "gdrive:backups/a.zip", 0)

	require.NoError(t, err)
	assert.NotContains(t, strings.Join(executor.calls[0], " "), "--bwlimit")
}

func TestRclone_CopyIncludesConfigAndExtraArgs(t *testing.T) {
	executor := &mockExecutor{}
	cfg := models.RcloneConfig{
		Binary:     "/opt/rclone",
		ConfigPath: "/etc/rclone.conf",
		ExtraArgs:  []string{"--transfers=1"},
	}
	rc := NewRcloneWithExecutor(testLogger(), cfg, executor)

	require.NoError(t, rc.Copy(context.Background(), "/tmp/a.zip", "gdrive:a.zip", 0))

	assert.Equal(t,
		[]string{"/opt/rclone", "copyto", "--config", "/etc/rclone.conf", "--transfers=1", "/tmp/a.zip", "gdrive:a.zip"},
		executor.calls[0])
}

func TestRclone_CopyFailure(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("didn't find section in config file"), errors.New("exit status 1")
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	err := rc.Copy(context.Background(), "/tmp/a.zip", "nope:a.zip", 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "didn't find section")
}

func TestRclone_ListParsesLsjson(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(`[
				{"Path":"app_20240101000000.zip","Name":"app_20240101000000.zip","Size":123,"IsDir":false},
				{"Path":"sub","Name":"sub","Size":-1,"IsDir":true},
				{"Path":"app_20240102000000.zip","Name":"app_20240102000000.zip","Size":456,"IsDir":false}
			]`), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	entries, err := rc.List(context.Background(), "gdrive:backups")

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "app_20240101000000.zip", Size: 123}, entries[0])
	assert.Equal(t, Entry{Name: "app_20240102000000.zip", Size: 456}, entries[1])
}

func TestRclone_ListEmptyTargetIsValid(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("2024/01/01 00:00:00 ERROR : directory not found"), errors.New("exit status 3")
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	entries, err := rc.List(context.Background(), "gdrive:never-written")

	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRclone_Delete(t *testing.T) {
	executor := &mockExecutor{}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	require.NoError(t, rc.Delete(context.Background(), "gdrive:backups/old.zip"))

	assert.Equal(t, []string{"rclone", "deletefile", "gdrive:backups/old.zip"}, executor.calls[0])
}

func TestRclone_VerifyMatchingChecksum(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	// md5("payload")
	const sum = "321c3cf486ed509164edec1e1981fec8"

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(sum + "  a.zip\n"), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	ok, err := rc.Verify(context.Background(), local, "gdrive:backups/a.zip")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRclone_VerifyMismatch(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("deadbeefdeadbeefdeadbeefdeadbeef  a.zip\n"), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	ok, err := rc.Verify(context.Background(), local, "gdrive:backups/a.zip")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRclone_VerifyFallsBackToSize(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if args[0] == "md5sum" {
				return []byte(""), nil // backend reports no checksum
			}
			return []byte(`[{"Path":"a.zip","Name":"a.zip","Size":7,"IsDir":false}]`), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	ok, err := rc.Verify(context.Background(), local, "gdrive:backups/a.zip")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRclone_VerifyUnsupportedChecksumFallsBackToSize(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if args[0] == "md5sum" {
				return []byte("UNSUPPORTED  a.zip\n"), nil
			}
			return []byte(`[{"Path":"a.zip","Name":"a.zip","Size":7,"IsDir":false}]`), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	ok, err := rc.Verify(context.Background(), local, "gdrive:backups/a.zip")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRclone_VerifyBlankHashColumnFallsBackToSize(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	// A blank-padded hash column leaves the file name as the first field.
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if args[0] == "md5sum" {
				return []byte("                                  a.zip\n"), nil
			}
			return []byte(`[{"Path":"a.zip","Name":"a.zip","Size":7,"IsDir":false}]`), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	ok, err := rc.Verify(context.Background(), local, "gdrive:backups/a.zip")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRclone_VerifySizeMismatchOnUnsupportedBackend(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if args[0] == "md5sum" {
				return []byte("UNSUPPORTED  a.zip\n"), nil
			}
			return []byte(`[{"Path":"a.zip","Name":"a.zip","Size":3,"IsDir":false}]`), nil
		},
	}
	rc := NewRcloneWithExecutor(testLogger(), testRcloneConfig(), executor)

	ok, err := rc.Verify(context.Background(), local, "gdrive:backups/a.zip")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRef(t *testing.T) {
	remote := models.RemoteTarget{Name: "gdrive", Path: "backups/host"}
	assert.Equal(t, "gdrive:backups/host/a.zip", Ref(remote, "a.zip"))
	assert.Equal(t, "gdrive:backups/host", Ref(remote, ""))

	local := models.RemoteTarget{Name: LocalTargetName, Path: "/mnt/usb"}
	assert.Equal(t, "/mnt/usb/a.zip", Ref(local, "a.zip"))
	assert.Equal(t, "/mnt/usb", Ref(local, ""))
}

type stubTransport struct{ id string }

func (s *stubTransport) Copy(context.Context, string, string, int) error { return nil }
func (s *stubTransport) List(context.Context, string) ([]Entry, error)  { return nil, nil }
func (s *stubTransport) Delete(context.Context, string) error           { return nil }
func (s *stubTransport) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

func TestMux_Routing(t *testing.T) {
	rclone := &stubTransport{id: "rclone"}
	local := &stubTransport{id: "local"}
	m := NewMux(rclone, local)

	assert.Same(t, Transport(rclone), m.pick("gdrive:backups/a.zip"))
	assert.Same(t, Transport(local), m.pick("/mnt/usb/a.zip"))
}
