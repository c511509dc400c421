package e2e

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/config"
	"github.com/Chiang-Chen-An/NP-HW3/internal/developer"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/lobby"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/room"
	"github.com/Chiang-Chen-An/NP-HW3/internal/store/jsonstore"
	"github.com/Chiang-Chen-An/NP-HW3/internal/supervisor"
	"github.com/Chiang-Chen-An/NP-HW3/internal/testutil"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

type platform struct {
	lobbyAddr string
	devAddr   string
}

// startPlatform brings up both endpoints of a fresh platform on random
// ports, backed by a json store and an sh supervisor.
func startPlatform(t *testing.T) *platform {
	t.Helper()

	st, err := jsonstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cat := catalog.New(st)
	layout := gamepkg.NewLayout(t.TempDir())
	rooms := room.NewRegistry()

	transfers, err := transfer.NewManager(cat, layout, t.TempDir())
	require.NoError(t, err)

	sup := supervisor.New(config.GameConfig{
		ServerHost:   "127.0.0.1",
		Interpreter:  "sh",
		StartDelayMs: 0,
	}, layout, rooms)
	t.Cleanup(sup.Shutdown)

	lobbySrv := lobby.NewServer(config.ListenConfig{}, cat, rooms, transfers, sup)
	devSrv := developer.NewServer(config.ListenConfig{}, cat, transfers, layout)

	ctx, _ := testutil.ContextWithCancel(t)

	lobbyLn, lobbyAddr := testutil.ListenTCP(t)
	go func() { _ = lobbySrv.Serve(ctx, lobbyLn) }()

	devLn, devAddr := testutil.ListenTCP(t)
	go func() { _ = devSrv.Serve(ctx, devLn) }()

	require.NoError(t, testutil.WaitForTCPReady(lobbyAddr, 5*time.Second))
	require.NoError(t, testutil.WaitForTCPReady(devAddr, 5*time.Second))

	return &platform{lobbyAddr: lobbyAddr, devAddr: devAddr}
}

// volatileKeys are wire fields that differ between runs: generated ids,
// OS-assigned ports, archive bytes and their derivatives, timestamps.
var volatileKeys = map[string]string{
	"transfer_id":     "<transfer_id>",
	"server_port":     "<port>",
	"checksum":        "<checksum>",
	"file_size":       "<size>",
	"game_created_at": "<time>",
	"chunk_data":      "<data>",
}

// normalize replaces volatile values with stable placeholders so a
// transcript compares equal across runs.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if placeholder, ok := volatileKeys[k]; ok {
				out[k] = placeholder
				continue
			}
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// canonical renders v as normalized JSON with sorted keys.
func canonical(t *testing.T, v any) string {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var generic any
	require.NoError(t, json.Unmarshal(raw, &generic))

	out, err := json.Marshal(normalize(generic))
	require.NoError(t, err)
	return string(out)
}

// transcript accumulates one scripted session as readable lines.
type transcript struct {
	t *testing.T
	b strings.Builder
}

func newTranscript(t *testing.T) *transcript {
	return &transcript{t: t}
}

func (tr *transcript) note(format string, args ...any) {
	fmt.Fprintf(&tr.b, "-- "+format+"\n", args...)
}

// actor is one named client whose frames are recorded.
type actor struct {
	tr   *transcript
	name string
	c    *testutil.Client
}

func (tr *transcript) actor(name string, c *testutil.Client) *actor {
	return &actor{tr: tr, name: name, c: c}
}

func (a *actor) send(req any) {
	fmt.Fprintf(&a.tr.b, "%s -> %s\n", a.name, canonical(a.tr.t, req))
	a.c.Send(req)
}

func (a *actor) recv() map[string]any {
	m := a.c.Recv()
	fmt.Fprintf(&a.tr.b, "%s <- %s\n", a.name, canonical(a.tr.t, m))
	return m
}

func (a *actor) call(req any) map[string]any {
	a.send(req)
	return a.recv()
}

// streamChunks feeds a transfer without recording every chunk frame.
func (a *actor) streamChunks(kind, transferID string, data []byte) {
	a.c.SendChunks(kind, transferID, data)
	a.tr.note("%s sends the game package in chunks", a.name)
}

// drainDownload consumes chunk frames silently and records only the
// closing frame. Returns the reassembled bytes and declared checksum.
func (a *actor) drainDownload() ([]byte, string) {
	a.tr.t.Helper()

	var data []byte
	for {
		m := a.c.Recv()
		if m["type"] == protocol.TypeDownloadChunk {
			piece, err := base64.StdEncoding.DecodeString(m["chunk_data"].(string))
			require.NoError(a.tr.t, err)
			data = append(data, piece...)
			continue
		}
		a.tr.note("%s reassembles the package from the stream", a.name)
		fmt.Fprintf(&a.tr.b, "%s <- %s\n", a.name, canonical(a.tr.t, m))
		require.Equal(a.tr.t, protocol.TypeDownloadFinish, m["type"])
		return data, m["checksum"].(string)
	}
}

// verifyTranscript compares the recorded lines to a golden file, or
// rewrites the file when UPDATE_GOLDENS=true.
func verifyTranscript(t *testing.T, tr *transcript, goldenFilename string) {
	t.Helper()

	actual := strings.TrimSpace(tr.b.String())
	require.NotEmpty(t, actual, "transcript is empty")

	goldenPath := filepath.Join("goldens", goldenFilename)

	if os.Getenv("UPDATE_GOLDENS") == "true" {
		require.NoError(t, os.MkdirAll(filepath.Dir(goldenPath), 0o755))
		require.NoError(t, os.WriteFile(goldenPath, []byte(actual+"\n"), 0o644))
		t.Logf("updated golden file: %s", goldenPath)
		return
	}

	expectedBytes, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		t.Fatalf("golden file missing: %s. Run with UPDATE_GOLDENS=true to create it.\nActual:\n%s", goldenPath, actual)
	}
	require.NoError(t, err)

	expected := strings.TrimSpace(string(expectedBytes))
	if actual != expected {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(expected),
			B:        difflib.SplitLines(actual),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  3,
		})
		t.Errorf("transcript mismatch for %s:\n%s", goldenFilename, diff)
	}
}
