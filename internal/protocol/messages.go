package protocol

import (
	"time"

	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
)

// Message kinds carried in the type field of every frame. Replies reuse
// the kind of the request they answer.
const (
	TypeLogin           = "LOGIN"
	TypeRegister        = "REGISTER"
	TypeLogout          = "LOGOUT"
	TypeListOnlineUsers = "LIST_ONLINE_USERS"
	TypeListGames       = "LIST_GAMES"
	TypeGetGameDetail   = "GET_GAME_DETAIL"
	TypeGameReview      = "GAME_REVIEW"
	TypeListRooms       = "LIST_ROOMS"
	TypeCreateRoom      = "CREATE_ROOM"
	TypeJoinRoom        = "JOIN_ROOM"
	TypeLeaveRoom       = "LEAVE_ROOM"
	TypeStartGame       = "START_GAME"
	TypeDownloadInit    = "DOWNLOAD_GAME_INIT"
	TypeDownloadChunk   = "DOWNLOAD_GAME_CHUNK"
	TypeDownloadFinish  = "DOWNLOAD_GAME_FINISH"

	TypeDeveloperLogin     = "DEVELOPER_LOGIN"
	TypeDeveloperRegister  = "DEVELOPER_REGISTER"
	TypeDeveloperLogout    = "DEVELOPER_LOGOUT"
	TypeDeveloperListGames = "DEVELOPER_LIST_GAMES"
	TypeUploadInit         = "UPLOAD_GAME_INIT"
	TypeUploadChunk        = "UPLOAD_GAME_CHUNK"
	TypeUploadFinish       = "UPLOAD_GAME_FINISH"
	TypeUpdateInit         = "UPDATE_GAME_INIT"
	TypeUpdateChunk        = "UPDATE_GAME_CHUNK"
	TypeUpdateFinish       = "UPDATE_GAME_FINISH"
	TypeDeleteGame         = "DELETE_GAME"
)

// Credentials is the request body for LOGIN, REGISTER and their
// developer counterparts.
type Credentials struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserRequest carries only the acting username: LOGOUT, DEVELOPER_LOGOUT,
// DEVELOPER_LIST_GAMES.
type UserRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// GameRequest addresses a single game: GET_GAME_DETAIL and, with the
// requester set, DELETE_GAME and DOWNLOAD_GAME_INIT.
type GameRequest struct {
	Type     string `json:"type"`
	GameID   string `json:"game_id"`
	Username string `json:"username,omitempty"`
}

// ReviewRequest submits one review. Score is validated to 1..5 at the
// endpoint; it is stored under the rating key of the game's comments.
type ReviewRequest struct {
	Type     string `json:"type"`
	GameID   string `json:"game_id"`
	Score    int    `json:"score"`
	Comment  string `json:"comment"`
	Username string `json:"username"`
}

// CreateRoomRequest opens a new room for an existing game.
type CreateRoomRequest struct {
	Type     string `json:"type"`
	GameID   string `json:"game_id"`
	Username string `json:"username"`
}

// RoomRequest addresses an existing room: JOIN_ROOM, LEAVE_ROOM,
// START_GAME.
type RoomRequest struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

// UploadInitRequest opens an upload transfer for a new game.
type UploadInitRequest struct {
	Type            string `json:"type"`
	Username        string `json:"username"`
	GameName        string `json:"game_name"`
	GameDescription string `json:"game_description"`
	FileSize        int64  `json:"file_size"`
}

// UpdateInitRequest opens an upload transfer replacing an existing game
// with a strictly newer version.
type UpdateInitRequest struct {
	Type        string `json:"type"`
	Username    string `json:"username"`
	GameID      string `json:"game_id"`
	GameVersion string `json:"game_version"`
	FileSize    int64  `json:"file_size"`
}

// Chunk carries one base64-encoded slice of a transfer in either
// direction.
type Chunk struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
	ChunkData  string `json:"chunk_data"`
}

// Finish closes a transfer, declaring the md5 hex checksum of the full
// file.
type Finish struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
	Checksum   string `json:"checksum"`
}

// Ack is the generic reply: the request's kind plus success and message.
type Ack struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NewAck builds a reply of the given kind.
func NewAck(kind string, ok bool, message string) Ack {
	return Ack{Type: kind, Success: ok, Message: message}
}

// OnlineUsersReply answers LIST_ONLINE_USERS.
type OnlineUsersReply struct {
	Type        string   `json:"type"`
	Success     bool     `json:"success"`
	OnlineUsers []string `json:"online_users"`
}

// GamesReply answers LIST_GAMES and DEVELOPER_LIST_GAMES.
type GamesReply struct {
	Type    string     `json:"type"`
	Success bool       `json:"success"`
	Games   []GameInfo `json:"games"`
}

// GameDetailReply answers GET_GAME_DETAIL.
type GameDetailReply struct {
	Type     string    `json:"type"`
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	GameInfo *GameInfo `json:"game_info,omitempty"`
}

// RoomsReply answers LIST_ROOMS with a registry snapshot.
type RoomsReply struct {
	Type    string     `json:"type"`
	Success bool       `json:"success"`
	Rooms   []RoomInfo `json:"rooms"`
}

// CreateRoomReply answers CREATE_ROOM with the allocated room id.
type CreateRoomReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
}

// StartGameNotice is broadcast to every player of a started room. It
// doubles as the owner's START_GAME reply; failures use Ack instead.
type StartGameNotice struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	GameID     string `json:"game_id"`
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
}

// DownloadInitReply announces the stream the server is about to send.
type DownloadInitReply struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	GameVersion string `json:"game_version,omitempty"`
	TransferID  string `json:"transfer_id,omitempty"`
}

// TransferInitReply answers UPLOAD_GAME_INIT and UPDATE_GAME_INIT.
type TransferInitReply struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
}

// UploadFinishReply carries the game id allocated for a completed upload.
type UploadFinishReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	GameID  string `json:"game_id,omitempty"`
}

// GameInfo is the wire form of a catalog game, the stored record plus the
// computed average rating.
type GameInfo struct {
	GameID          string         `json:"game_id"`
	GameName        string         `json:"game_name"`
	GameDescription string         `json:"game_description"`
	GameVersion     string         `json:"game_version"`
	GameAuthor      string         `json:"game_author"`
	DownloadCount   int            `json:"download_count"`
	Comments        []model.Review `json:"comments"`
	GameCreatedAt   time.Time      `json:"game_created_at"`
	MaxPlayers      int            `json:"max_players"`
	AverageRating   float64        `json:"average_rating"`
}

// NewGameInfo converts a catalog record to its wire form.
func NewGameInfo(g *model.Game) GameInfo {
	comments := g.Comments
	if comments == nil {
		comments = []model.Review{}
	}
	return GameInfo{
		GameID:          g.GameID,
		GameName:        g.Name,
		GameDescription: g.Description,
		GameVersion:     g.Version,
		GameAuthor:      g.Author,
		DownloadCount:   g.DownloadCount,
		Comments:        comments,
		GameCreatedAt:   g.CreatedAt,
		MaxPlayers:      g.MaxPlayers,
		AverageRating:   g.AverageRating(),
	}
}

// RoomInfo is one LIST_ROOMS entry: the room record plus the game name
// resolved from the catalog.
type RoomInfo struct {
	RoomID     string   `json:"room_id"`
	GameID     string   `json:"game_id"`
	GameName   string   `json:"game_name"`
	MaxPlayers int      `json:"max_players"`
	RoomOwner  string   `json:"room_owner"`
	Players    []string `json:"players"`
	IsStarted  bool     `json:"is_started"`
}

// NewRoomInfo converts a registry room to its wire form.
func NewRoomInfo(r *model.Room, gameName string) RoomInfo {
	players := r.Players
	if players == nil {
		players = []string{}
	}
	return RoomInfo{
		RoomID:     r.RoomID,
		GameID:     r.GameID,
		GameName:   gameName,
		MaxPlayers: r.MaxPlayers,
		RoomOwner:  r.Owner,
		Players:    players,
		IsStarted:  r.IsStarted,
	}
}
