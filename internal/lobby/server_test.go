package lobby

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/config"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/room"
	"github.com/Chiang-Chen-An/NP-HW3/internal/store/jsonstore"
	"github.com/Chiang-Chen-An/NP-HW3/internal/supervisor"
	"github.com/Chiang-Chen-An/NP-HW3/internal/testutil"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

type fixture struct {
	addr   string
	cat    *catalog.Catalog
	rooms  *room.Registry
	layout gamepkg.Layout
	sup    *supervisor.Supervisor
}

// startServer brings up a lobby endpoint on a random port with real
// dependencies: json store, on-disk game storage, and an sh-based
// supervisor so packaged server scripts can run without python.
func startServer(t *testing.T) *fixture {
	t.Helper()

	st, err := jsonstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cat := catalog.New(st)
	layout := gamepkg.NewLayout(t.TempDir())
	rooms := room.NewRegistry()

	tm, err := transfer.NewManager(cat, layout, t.TempDir())
	require.NoError(t, err)

	sup := supervisor.New(config.GameConfig{
		ServerHost:   "127.0.0.1",
		Interpreter:  "sh",
		StartDelayMs: 0,
	}, layout, rooms)
	t.Cleanup(sup.Shutdown)

	srv := NewServer(config.ListenConfig{}, cat, rooms, tm, sup)

	ln, addr := testutil.ListenTCP(t)
	ctx, _ := testutil.ContextWithCancel(t)
	go func() { _ = srv.Serve(ctx, ln) }()
	require.NoError(t, testutil.WaitForTCPReady(addr, 5*time.Second))

	return &fixture{addr: addr, cat: cat, rooms: rooms, layout: layout, sup: sup}
}

// login dials a fresh connection and authenticates username,
// registering the account first.
func (f *fixture) login(t *testing.T, username string) *testutil.Client {
	t.Helper()

	c := testutil.Dial(t, f.addr)
	ack := c.Auth(protocol.TypeRegister, username, "secret")
	require.True(t, ack.Success, "register %s: %s", username, ack.Message)
	ack = c.Auth(protocol.TypeLogin, username, "secret")
	require.True(t, ack.Success, "login %s: %s", username, ack.Message)
	return c
}

// seedGame creates a catalog entry and its on-disk package tree.
// An empty serverScript leaves the package without server.py.
func (f *fixture) seedGame(t *testing.T, name, version string, maxPlayers int, serverScript string) string {
	t.Helper()

	id, err := f.cat.AddGame(context.Background(), "dev", name, "about "+name, version, maxPlayers)
	require.NoError(t, err)

	dir := f.layout.VersionDir(id, version)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "client"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "server"), 0o755))

	cfg := fmt.Sprintf(`{"game_name":%q,"game_version":%q,"max_players":%d}`, name, version, maxPlayers)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "client", "client.py"), []byte("print('client')\n"), 0o644))
	if serverScript != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "server", "server.py"), []byte(serverScript), 0o644))
	}
	return id
}

func TestLoginFlow(t *testing.T) {
	f := startServer(t)

	c := testutil.Dial(t, f.addr)
	ack := c.Auth(protocol.TypeRegister, "bob", "secret")
	require.True(t, ack.Success)
	assert.Equal(t, protocol.TypeRegister, ack.Type)
	assert.Equal(t, "Register successful", ack.Message)

	ack = c.Auth(protocol.TypeLogin, "bob", "wrong")
	assert.False(t, ack.Success)
	assert.Equal(t, "Incorrect password", ack.Message)

	ack = c.Auth(protocol.TypeLogin, "bob", "secret")
	require.True(t, ack.Success)
	assert.Equal(t, "Login successful", ack.Message)

	// the account is busy until bob logs out
	second := testutil.Dial(t, f.addr)
	ack = second.Auth(protocol.TypeLogin, "bob", "secret")
	assert.False(t, ack.Success)
	assert.Equal(t, "Account already logged in from another session", ack.Message)

	ack = c.Logout(protocol.TypeLogout, "bob")
	require.True(t, ack.Success)
	assert.Equal(t, "Logout successful", ack.Message)

	ack = second.Auth(protocol.TypeLogin, "bob", "secret")
	assert.True(t, ack.Success)
}

func TestLoginValidation(t *testing.T) {
	f := startServer(t)

	tests := []struct {
		name     string
		username string
		password string
		wantMsg  string
	}{
		{"empty username", "", "pw", "Username or password is empty"},
		{"empty password", "ann", "", "Username or password is empty"},
		{"unknown user", "nobody", "pw", "User not found"},
	}

	c := testutil.Dial(t, f.addr)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := c.Auth(protocol.TypeLogin, tt.username, tt.password)
			assert.False(t, ack.Success)
			assert.Equal(t, tt.wantMsg, ack.Message)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f := startServer(t)

	c := testutil.Dial(t, f.addr)
	require.True(t, c.Auth(protocol.TypeRegister, "bob", "secret").Success)

	ack := c.Auth(protocol.TypeRegister, "bob", "other")
	assert.False(t, ack.Success)
	assert.Equal(t, "Username already exists", ack.Message)
}

func TestLogoutUnknownUser(t *testing.T) {
	f := startServer(t)

	c := testutil.Dial(t, f.addr)
	ack := c.Logout(protocol.TypeLogout, "ghost")
	assert.False(t, ack.Success)
	assert.Equal(t, "Username not found", ack.Message)
}

func TestListOnlineUsers(t *testing.T) {
	f := startServer(t)

	f.login(t, "alice")
	f.login(t, "bob")

	observer := testutil.Dial(t, f.addr)
	observer.Send(protocol.UserRequest{Type: protocol.TypeListOnlineUsers})

	var reply protocol.OnlineUsersReply
	observer.RecvInto(&reply)
	require.True(t, reply.Success)
	assert.Equal(t, protocol.TypeListOnlineUsers, reply.Type)
	assert.ElementsMatch(t, []string{"alice", "bob"}, reply.OnlineUsers)
}

func TestListGamesAndDetail(t *testing.T) {
	f := startServer(t)
	idChess := f.seedGame(t, "chess", "1.0.0", 2, "print('server')\n")
	f.seedGame(t, "go", "2.0.0", 2, "print('server')\n")

	c := f.login(t, "alice")

	c.Send(protocol.UserRequest{Type: protocol.TypeListGames})
	var games protocol.GamesReply
	c.RecvInto(&games)
	require.True(t, games.Success)
	require.Len(t, games.Games, 2)

	c.Send(protocol.GameRequest{Type: protocol.TypeGetGameDetail, GameID: idChess})
	var detail protocol.GameDetailReply
	c.RecvInto(&detail)
	require.True(t, detail.Success)
	require.NotNil(t, detail.GameInfo)
	assert.Equal(t, "chess", detail.GameInfo.GameName)
	assert.Equal(t, "1.0.0", detail.GameInfo.GameVersion)
	assert.Equal(t, 2, detail.GameInfo.MaxPlayers)
	assert.NotNil(t, detail.GameInfo.Comments)

	c.Send(protocol.GameRequest{Type: protocol.TypeGetGameDetail, GameID: "404"})
	c.RecvInto(&detail)
	assert.False(t, detail.Success)
	assert.Equal(t, "Game not found", detail.Message)
	assert.Nil(t, detail.GameInfo)
}

func TestGameReview(t *testing.T) {
	f := startServer(t)
	id := f.seedGame(t, "chess", "1.0.0", 2, "print('server')\n")

	c := f.login(t, "alice")

	c.Send(protocol.ReviewRequest{Type: protocol.TypeGameReview, GameID: id, Score: 6})
	var ack protocol.Ack
	c.RecvInto(&ack)
	assert.False(t, ack.Success)
	assert.Equal(t, "Rating must be between 1 and 5", ack.Message)

	// a review without a username is stored as anonymous
	c.Send(protocol.ReviewRequest{Type: protocol.TypeGameReview, GameID: id, Score: 4, Comment: "solid"})
	c.RecvInto(&ack)
	require.True(t, ack.Success)
	assert.Equal(t, "Review submitted successfully", ack.Message)

	c.Send(protocol.GameRequest{Type: protocol.TypeGetGameDetail, GameID: id})
	var detail protocol.GameDetailReply
	c.RecvInto(&detail)
	require.True(t, detail.Success)
	require.Len(t, detail.GameInfo.Comments, 1)
	assert.Equal(t, "anonymous", detail.GameInfo.Comments[0].Username)
	assert.Equal(t, 4, detail.GameInfo.Comments[0].Rating)
	assert.InDelta(t, 4.0, detail.GameInfo.AverageRating, 0.001)
}

func TestRoomLifecycle(t *testing.T) {
	f := startServer(t)
	id := f.seedGame(t, "chess", "1.0.0", 2, "print('server')\n")

	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	carol := f.login(t, "carol")

	var created protocol.CreateRoomReply
	alice.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: "404", Username: "alice"})
	alice.RecvInto(&created)
	assert.False(t, created.Success)
	assert.Equal(t, "Game not found", created.Message)

	alice.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: id, Username: "alice"})
	alice.RecvInto(&created)
	require.True(t, created.Success)
	require.NotEmpty(t, created.RoomID)

	ack := bob.Call(protocol.RoomRequest{Type: protocol.TypeJoinRoom, RoomID: created.RoomID, Username: "bob"})
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, "Joined room successfully", ack["message"])

	// room holds two players, which is its capacity
	ack = carol.Call(protocol.RoomRequest{Type: protocol.TypeJoinRoom, RoomID: created.RoomID, Username: "carol"})
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "Room full", ack["message"])

	carol.Send(protocol.UserRequest{Type: protocol.TypeListRooms})
	var rooms protocol.RoomsReply
	carol.RecvInto(&rooms)
	require.True(t, rooms.Success)
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, created.RoomID, rooms.Rooms[0].RoomID)
	assert.Equal(t, "chess", rooms.Rooms[0].GameName)
	assert.Equal(t, "alice", rooms.Rooms[0].RoomOwner)
	assert.ElementsMatch(t, []string{"alice", "bob"}, rooms.Rooms[0].Players)

	ack = bob.Call(protocol.RoomRequest{Type: protocol.TypeLeaveRoom, RoomID: created.RoomID, Username: "bob"})
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, "Left room successfully", ack["message"])

	ack = carol.Call(protocol.RoomRequest{Type: protocol.TypeLeaveRoom, RoomID: created.RoomID, Username: "carol"})
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "You are not in this room", ack["message"])

	ack = bob.Call(protocol.RoomRequest{Type: protocol.TypeJoinRoom, RoomID: "404", Username: "bob"})
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "Room not found", ack["message"])
}

func TestStartGame(t *testing.T) {
	f := startServer(t)
	id := f.seedGame(t, "chess", "1.0.0", 2, "sleep 5\n")

	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	var created protocol.CreateRoomReply
	alice.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: id, Username: "alice"})
	alice.RecvInto(&created)
	require.True(t, created.Success)

	ack := alice.Call(protocol.RoomRequest{Type: protocol.TypeStartGame, RoomID: created.RoomID, Username: "alice"})
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "Not enough players. Need 2 players, currently have 1", ack["message"])

	require.Equal(t, true, bob.Call(protocol.RoomRequest{Type: protocol.TypeJoinRoom, RoomID: created.RoomID, Username: "bob"})["success"])

	ack = bob.Call(protocol.RoomRequest{Type: protocol.TypeStartGame, RoomID: created.RoomID, Username: "bob"})
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "Only room owner can start the game", ack["message"])

	alice.Send(protocol.RoomRequest{Type: protocol.TypeStartGame, RoomID: created.RoomID, Username: "alice"})

	var ownerNotice, peerNotice protocol.StartGameNotice
	alice.RecvInto(&ownerNotice)
	bob.RecvInto(&peerNotice)

	assert.Equal(t, protocol.TypeStartGame, ownerNotice.Type)
	assert.Equal(t, created.RoomID, ownerNotice.RoomID)
	assert.Equal(t, id, ownerNotice.GameID)
	assert.Equal(t, "127.0.0.1", ownerNotice.ServerHost)
	assert.Greater(t, ownerNotice.ServerPort, 0)
	assert.Equal(t, ownerNotice, peerNotice)

	r, err := f.rooms.Get(created.RoomID)
	require.NoError(t, err)
	assert.True(t, r.IsStarted)
}

func TestStartGameWithoutServerScript(t *testing.T) {
	f := startServer(t)
	id := f.seedGame(t, "chess", "1.0.0", 1, "")

	alice := f.login(t, "alice")

	var created protocol.CreateRoomReply
	alice.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: id, Username: "alice"})
	alice.RecvInto(&created)
	require.True(t, created.Success)

	ack := alice.Call(protocol.RoomRequest{Type: protocol.TypeStartGame, RoomID: created.RoomID, Username: "alice"})
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "Game server script not found", ack["message"])
}

func TestDownloadGame(t *testing.T) {
	f := startServer(t)
	id := f.seedGame(t, "chess", "1.0.0", 2, "print('server')\n")

	c := f.login(t, "alice")

	c.Send(protocol.GameRequest{Type: protocol.TypeDownloadInit, GameID: id, Username: "alice"})
	var init protocol.DownloadInitReply
	c.RecvInto(&init)
	require.True(t, init.Success, init.Message)
	assert.Equal(t, "1.0.0", init.GameVersion)
	assert.NotEmpty(t, init.TransferID)
	require.Greater(t, init.FileSize, int64(0))

	data, fin := c.RecvDownload()
	assert.Equal(t, init.TransferID, fin.TransferID)
	assert.Equal(t, init.FileSize, int64(len(data)))

	sum := md5.Sum(data)
	assert.Equal(t, fin.Checksum, hex.EncodeToString(sum[:]))

	// served once, counted once
	c.Send(protocol.GameRequest{Type: protocol.TypeGetGameDetail, GameID: id})
	var detail protocol.GameDetailReply
	c.RecvInto(&detail)
	require.True(t, detail.Success)
	assert.Equal(t, 1, detail.GameInfo.DownloadCount)
}

func TestDownloadErrors(t *testing.T) {
	f := startServer(t)

	// cataloged but its files were never stored
	orphan, err := f.cat.AddGame(context.Background(), "dev", "ghost", "", "1.0.0", 2)
	require.NoError(t, err)

	c := f.login(t, "alice")

	c.Send(protocol.GameRequest{Type: protocol.TypeDownloadInit, GameID: "404", Username: "alice"})
	var init protocol.DownloadInitReply
	c.RecvInto(&init)
	assert.False(t, init.Success)
	assert.Equal(t, "Game not found", init.Message)

	c.Send(protocol.GameRequest{Type: protocol.TypeDownloadInit, GameID: orphan, Username: "alice"})
	c.RecvInto(&init)
	assert.False(t, init.Success)
	assert.Equal(t, "Game files not found on server", init.Message)
}

func TestUnknownKindIgnored(t *testing.T) {
	f := startServer(t)

	c := testutil.Dial(t, f.addr)
	c.Send(map[string]any{"type": "BOGUS", "blob": 1})
	c.ExpectSilence(200 * time.Millisecond)

	// the connection is still serviceable
	c.Send(protocol.UserRequest{Type: protocol.TypeListGames})
	var games protocol.GamesReply
	c.RecvInto(&games)
	assert.True(t, games.Success)
}

func TestMalformedFrameEndsSession(t *testing.T) {
	f := startServer(t)

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteFrame(conn, []byte("not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, readErr := conn.Read(make([]byte, 1))
	require.Error(t, readErr)
	var netErr net.Error
	if errors.As(readErr, &netErr) {
		assert.False(t, netErr.Timeout(), "server kept the session open after a malformed frame")
	}
}

func TestDisconnectCleanup(t *testing.T) {
	f := startServer(t)
	id := f.seedGame(t, "chess", "1.0.0", 2, "print('server')\n")
	ctx := context.Background()

	alice := f.login(t, "alice")

	var created protocol.CreateRoomReply
	alice.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: id, Username: "alice"})
	alice.RecvInto(&created)
	require.True(t, created.Success)

	require.NoError(t, alice.Close())

	testutil.WaitForCleanup(t, func() bool {
		return len(f.rooms.Snapshot()) == 0
	}, 5*time.Second)

	testutil.WaitForCleanup(t, func() bool {
		online, err := f.cat.OnlineUsers(ctx, model.RoleUser)
		return err == nil && len(online) == 0
	}, 5*time.Second)

	// the freed account can log straight back in
	again := testutil.Dial(t, f.addr)
	ack := again.Auth(protocol.TypeLogin, "alice", "secret")
	assert.True(t, ack.Success, ack.Message)
}

func TestReloginDisplacesPreviousUser(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	c := f.login(t, "alice")

	// switching accounts on one connection releases the first account
	require.True(t, c.Auth(protocol.TypeRegister, "bob", "secret").Success)
	require.True(t, c.Auth(protocol.TypeLogin, "bob", "secret").Success)

	testutil.WaitForCleanup(t, func() bool {
		online, err := f.cat.OnlineUsers(ctx, model.RoleUser)
		return err == nil && len(online) == 1 && online[0] == "bob"
	}, 5*time.Second)
}
