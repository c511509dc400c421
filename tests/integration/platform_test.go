package integration

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/testutil"
)

const (
	chessV1 = `{"game_name":"chess","game_description":"classic","game_version":"1.0.0","max_players":2}`
	chessV2 = `{"game_name":"chess deluxe","game_description":"now with clocks","game_version":"2.0.0","max_players":4}`
)

// unpackConfig extracts config.json from a downloaded archive.
func (s *PlatformSuite) unpackConfig(data []byte) string {
	t := s.T()

	zipPath := filepath.Join(t.TempDir(), "download.zip")
	s.Require().NoError(os.WriteFile(zipPath, data, 0o644))

	dest := t.TempDir()
	s.Require().NoError(gamepkg.Unpack(zipPath, dest))

	raw, err := os.ReadFile(filepath.Join(dest, "config.json"))
	s.Require().NoError(err)
	return string(raw)
}

func (s *PlatformSuite) TestPublishBrowseDownload() {
	dev := s.developer("studio")

	zipData, _ := testutil.GameZip(s.T(), chessV1)
	fin := dev.UploadGame("studio", "", "", zipData)
	s.Require().True(fin.Success, fin.Message)

	// the upload is immediately visible to players
	player := s.player("alice")
	player.Send(protocol.UserRequest{Type: protocol.TypeListGames})
	var games protocol.GamesReply
	player.RecvInto(&games)
	s.Require().True(games.Success)
	s.Require().Len(games.Games, 1)
	s.Equal("chess", games.Games[0].GameName)
	s.Equal("studio", games.Games[0].GameAuthor)
	s.Equal("1.0.0", games.Games[0].GameVersion)

	player.Send(protocol.GameRequest{Type: protocol.TypeDownloadInit, GameID: fin.GameID, Username: "alice"})
	var init protocol.DownloadInitReply
	player.RecvInto(&init)
	s.Require().True(init.Success, init.Message)
	s.Equal("1.0.0", init.GameVersion)

	data, dlFin := player.RecvDownload()
	s.Equal(init.FileSize, int64(len(data)))
	sum := md5.Sum(data)
	s.Equal(dlFin.Checksum, hex.EncodeToString(sum[:]))
	s.Equal(chessV1, s.unpackConfig(data))

	player.Send(protocol.ReviewRequest{Type: protocol.TypeGameReview, GameID: fin.GameID, Score: 4, Comment: "solid", Username: "alice"})
	var ack protocol.Ack
	player.RecvInto(&ack)
	s.Require().True(ack.Success, ack.Message)

	// the developer sees the download and the review
	dev.Send(protocol.UserRequest{Type: protocol.TypeDeveloperListGames, Username: "studio"})
	var mine protocol.GamesReply
	dev.RecvInto(&mine)
	s.Require().True(mine.Success)
	s.Require().Len(mine.Games, 1)
	s.Equal(1, mine.Games[0].DownloadCount)
	s.Require().Len(mine.Games[0].Comments, 1)
	s.Equal("alice", mine.Games[0].Comments[0].Username)
	s.InDelta(4.0, mine.Games[0].AverageRating, 0.001)
}

func (s *PlatformSuite) TestUpdateReachesPlayers() {
	dev := s.developer("studio")

	zipV1, _ := testutil.GameZip(s.T(), chessV1)
	fin := dev.UploadGame("studio", "", "", zipV1)
	s.Require().True(fin.Success, fin.Message)

	zipV2, _ := testutil.GameZip(s.T(), chessV2)
	ack := dev.UpdateGame("studio", fin.GameID, "2.0.0", zipV2)
	s.Require().True(ack.Success, ack.Message)

	player := s.player("alice")
	player.Send(protocol.UserRequest{Type: protocol.TypeListGames})
	var games protocol.GamesReply
	player.RecvInto(&games)
	s.Require().Len(games.Games, 1)
	s.Equal("chess deluxe", games.Games[0].GameName)
	s.Equal("2.0.0", games.Games[0].GameVersion)
	s.Equal(4, games.Games[0].MaxPlayers)

	// downloads serve the updated package
	player.Send(protocol.GameRequest{Type: protocol.TypeDownloadInit, GameID: fin.GameID, Username: "alice"})
	var init protocol.DownloadInitReply
	player.RecvInto(&init)
	s.Require().True(init.Success, init.Message)
	s.Equal("2.0.0", init.GameVersion)

	data, _ := player.RecvDownload()
	s.Equal(chessV2, s.unpackConfig(data))
}

func (s *PlatformSuite) TestDeleteRemovesGameEverywhere() {
	dev := s.developer("studio")

	zipData, _ := testutil.GameZip(s.T(), chessV1)
	fin := dev.UploadGame("studio", "", "", zipData)
	s.Require().True(fin.Success, fin.Message)

	ack := dev.Call(protocol.GameRequest{Type: protocol.TypeDeleteGame, GameID: fin.GameID, Username: "studio"})
	s.Equal(true, ack["success"])

	player := s.player("alice")
	player.Send(protocol.UserRequest{Type: protocol.TypeListGames})
	var games protocol.GamesReply
	player.RecvInto(&games)
	s.Require().True(games.Success)
	s.Empty(games.Games)

	player.Send(protocol.GameRequest{Type: protocol.TypeDownloadInit, GameID: fin.GameID, Username: "alice"})
	var init protocol.DownloadInitReply
	player.RecvInto(&init)
	s.False(init.Success)
	s.Equal("Game not found", init.Message)

	var created protocol.CreateRoomReply
	player.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: fin.GameID, Username: "alice"})
	player.RecvInto(&created)
	s.False(created.Success)
	s.Equal("Game not found", created.Message)
}

func (s *PlatformSuite) TestMatchLifecycle() {
	dev := s.developer("studio")

	// the packaged server exits on its own shortly after launch
	zipData, _ := testutil.GameZipWithServer(s.T(), chessV1, "sleep 0.3\n")
	fin := dev.UploadGame("studio", "", "", zipData)
	s.Require().True(fin.Success, fin.Message)

	alice := s.player("alice")
	bob := s.player("bob")

	var created protocol.CreateRoomReply
	alice.Send(protocol.CreateRoomRequest{Type: protocol.TypeCreateRoom, GameID: fin.GameID, Username: "alice"})
	alice.RecvInto(&created)
	s.Require().True(created.Success, created.Message)

	join := bob.Call(protocol.RoomRequest{Type: protocol.TypeJoinRoom, RoomID: created.RoomID, Username: "bob"})
	s.Require().Equal(true, join["success"], join["message"])

	alice.Send(protocol.RoomRequest{Type: protocol.TypeStartGame, RoomID: created.RoomID, Username: "alice"})

	var ownerNotice, peerNotice protocol.StartGameNotice
	alice.RecvInto(&ownerNotice)
	bob.RecvInto(&peerNotice)
	s.Equal(protocol.TypeStartGame, ownerNotice.Type)
	s.Equal("127.0.0.1", ownerNotice.ServerHost)
	s.Greater(ownerNotice.ServerPort, 0)
	s.Equal(ownerNotice, peerNotice)

	// once the game server exits, the room is reclaimed
	testutil.WaitForCleanup(s.T(), func() bool {
		return len(s.rooms.Snapshot()) == 0
	}, 5*time.Second)

	alice.Send(protocol.UserRequest{Type: protocol.TypeListRooms})
	var rooms protocol.RoomsReply
	alice.RecvInto(&rooms)
	s.Require().True(rooms.Success)
	s.Empty(rooms.Rooms)
}

func (s *PlatformSuite) TestAccountNamespacesAreIndependent() {
	dev := s.developer("sam")
	player := s.player("sam")

	// both sides of the same name are online at once
	observer := testutil.Dial(s.T(), s.lobbyAddr)
	observer.Send(protocol.UserRequest{Type: protocol.TypeListOnlineUsers})
	var online protocol.OnlineUsersReply
	observer.RecvInto(&online)
	s.Require().True(online.Success)
	s.Equal([]string{"sam"}, online.OnlineUsers)

	s.Require().True(dev.Logout(protocol.TypeDeveloperLogout, "sam").Success)
	s.Require().True(player.Logout(protocol.TypeLogout, "sam").Success)
}
