package speed

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SharonIV0x86/SPEED/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ExecutorCapacity:   16,
		ExecutorIdleMillis: 200,
		ScanIntervalMillis: 15,
	}
}

func newTestCoordinator(t *testing.T, busDir, name string) *Coordinator {
	t.Helper()
	c, err := New(name, Multi, busDir, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.SetKeyFile(testKeyFile2))
	return c
}

// testKeyFile2 is set once per test process in TestMain so every
// coordinator in a given test shares the same key; individual tests that
// need a mismatched key call SetKeyFile with a different path.
var testKeyFile2 string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "speed-keyfile")
	if err != nil {
		panic(err)
	}
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	path := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(raw)), 0o600); err != nil {
		panic(err)
	}
	testKeyFile2 = path
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

// TestHandshakeThenSend covers scenario S4: NotConnected on first send,
// CON_REQ/CON_RES round trip, retry succeeds with exactly one callback
// delivery on the receiver.
func TestHandshakeThenSend(t *testing.T) {
	busDir := t.TempDir()
	a := newTestCoordinator(t, busDir, "A")
	b := newTestCoordinator(t, busDir, "B")

	var delivered []Message
	b.SetCallback(func(m Message) { delivered = append(delivered, m) })
	a.SetCallback(func(Message) {})

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Kill()
	defer b.Kill()

	// B must already authorize A for B to answer A's CON_REQ with CON_RES
	// (spec §4.F.ii "CON_REQ: if sender ∈ access → send CON_RES").
	b.reg.Add("A")
	require.NoError(t, a.AddProcess("B"))

	err := a.Send("hello", "B")
	require.ErrorIs(t, err, ErrNotConnected)

	waitFor(t, 2*time.Second, func() bool { return a.reg.ContainsConnected("B") })

	require.NoError(t, a.Send("hello", "B"))

	waitFor(t, 2*time.Second, func() bool { return len(delivered) == 1 })
	require.Equal(t, "hello", delivered[0].PayloadText)
	require.Equal(t, "A", delivered[0].SenderName)
}

// TestGracefulExit covers scenario S5: Kill broadcasts EXIT_NOTIF to every
// access-list peer and removes the caller's own marker file.
func TestGracefulExit(t *testing.T) {
	busDir := t.TempDir()
	a := newTestCoordinator(t, busDir, "A")
	b := newTestCoordinator(t, busDir, "B")
	cc := newTestCoordinator(t, busDir, "C")

	a.SetCallback(func(Message) {})
	b.SetCallback(func(Message) {})
	cc.SetCallback(func(Message) {})

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	require.NoError(t, cc.Start())
	defer b.Kill()
	defer cc.Kill()

	// B and C must authorize A to answer its CON_REQ with CON_RES.
	b.reg.Add("A")
	cc.reg.Add("A")
	require.NoError(t, a.AddProcess("B"))
	require.NoError(t, a.AddProcess("C"))

	waitFor(t, 2*time.Second, func() bool {
		return a.reg.ContainsConnected("B") && a.reg.ContainsConnected("C")
	})

	markerPath := filepath.Join(busDir, accessRegistryDirName, "A.oregistry")
	_, err := os.Stat(markerPath)
	require.NoError(t, err)

	require.NoError(t, a.Kill())
	require.NoError(t, a.Kill()) // idempotent

	_, err = os.Stat(markerPath)
	require.True(t, os.IsNotExist(err))

	// B and C each receive exactly one EXIT_NOTIF from A; every frame file
	// must be consumed (no leftover files, no hang), and dispatching the
	// EXIT_NOTIF drops A from their access sets.
	waitFor(t, 2*time.Second, func() bool {
		bEntries, err := os.ReadDir(filepath.Join(busDir, "B"))
		if err != nil {
			return false
		}
		cEntries, err := os.ReadDir(filepath.Join(busDir, "C"))
		if err != nil {
			return false
		}
		return len(bEntries) == 0 && len(cEntries) == 0
	})
	require.False(t, b.reg.ContainsAccess("A"))
	require.False(t, cc.reg.ContainsAccess("A"))
}

// TestWrongKeyDropsSilently covers scenario S6: a frame encrypted under a
// different key than the receiver's is deleted without invoking the
// callback and without panicking.
func TestWrongKeyDropsSilently(t *testing.T) {
	busDir := t.TempDir()
	a := newTestCoordinator(t, busDir, "A")

	wrongKeyPath := filepath.Join(t.TempDir(), "wrong.txt")
	wrongRaw := make([]byte, 32)
	for i := range wrongRaw {
		wrongRaw[i] = byte(255 - i)
	}
	require.NoError(t, os.WriteFile(wrongKeyPath, []byte(base64.StdEncoding.EncodeToString(wrongRaw)), 0o600))

	b, err := New("B", Multi, busDir, testConfig())
	require.NoError(t, err)
	require.NoError(t, b.SetKeyFile(wrongKeyPath))

	var delivered []Message
	b.SetCallback(func(m Message) { delivered = append(delivered, m) })
	a.SetCallback(func(Message) {})

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Kill()
	defer b.Kill()

	require.NoError(t, a.AddProcess("B"))
	b.reg.Add("A")
	b.reg.Connect("A")
	a.reg.Connect("B")

	require.NoError(t, a.Send("hi", "B"))

	time.Sleep(300 * time.Millisecond)
	require.Empty(t, delivered)

	entries, err := os.ReadDir(filepath.Join(busDir, "B"))
	require.NoError(t, err)
	require.Empty(t, entries)
}
