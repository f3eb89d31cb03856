package model

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	RoomStatusWaiting = "waiting"
	RoomStatusPlaying = "playing"
	RoomStatusEnded = "ended"
)

type Room struct {
	Id bson.ObjectId `bson:"_id,omitempty" json:"id"`
	Name string `bson:"name" json:"name"`
	Code string `bson:"code" json:"code"`
	CreatorID bson.ObjectId `bson:"creatorID" json:"creatorId"`
	MaxPlayers int `bson:"maxPlayers" json:"maxPlayers"`
	Status string `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	EndedAt *time.Time `bson:"endedAt,omitempty" json:"endedAt,omitempty"`
}

func (r Room) GetCollectionName() string {
	return "rooms"
}

//RoomPlayer is the durable membership record. The room code is denormalized
//onto it so membership and score lookups don't need the room document.
type RoomPlayer struct {
	Id bson.ObjectId `bson:"_id,omitempty" json:"-"`
	RoomCode string `bson:"roomCode" json:"roomCode"`
	UserID bson.ObjectId `bson:"userID" json:"userId"`
	Score int `bson:"score" json:"score"`
	JoinedAt time.Time `bson:"joinedAt" json:"joinedAt"`
}

func (rp RoomPlayer) GetCollectionName() string {
	return "roomPlayers"
}
