package model

import "github.com/globalsign/mgo/bson"

type LeaderboardEntry struct {
	Id bson.ObjectId `bson:"_id,omitempty"`
	Type string `bson:"type"` //day, week, month, overall
	TypeID *string `bson:"typeID"` // could be nil for overall
	UserID bson.ObjectId `bson:"userID"`
	Score int64 `bson:"score"`
}

func (_ LeaderboardEntry) GetCollectionName() string {
	return "scores"
}
