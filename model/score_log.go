package model

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

type ScoreLog struct {
	Id bson.ObjectId `bson:"_id,omitempty" json:"-"`
	RoomCode string `bson:"roomCode" json:"roomCode"`
	FromUser bson.ObjectId `bson:"fromUser" json:"fromUser"`
	ToUser bson.ObjectId `bson:"toUser" json:"toUser"`
	Points int `bson:"points" json:"points"`
	Action string `bson:"action" json:"action"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

func (s ScoreLog) GetCollectionName() string {
	return "scoreLogs"
}
