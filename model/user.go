package model

import (
	"github.com/globalsign/mgo/bson"
)

type User struct {
	Id bson.ObjectId `bson:"_id,omitempty" json:"id"`
	Username string `bson:"username" json:"username"`
	Fingerprint string `bson:"fingerprint" json:"-"`
	DisplayName string `bson:"displayName" json:"displayName"`
	AvatarUrl string `bson:"avatarURL" json:"avatarUrl"`
	Online bool `bson:"isOnline" json:"online"`
}

func (u User) GetCollectionName() string {
	return "users"
}
