package server

import (
	"strconv"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"github.com/zyla1588-ctrl/BilliardsScoreCounter/model"
)

//Leaderboard keeps running score aggregates per user, bucketed by day,
//week, month and overall. It is fed by the gateway's score-delta path.
type Leaderboard struct {
	db *mgo.Session
	config *Config
}

func NewLeaderboard(db *mgo.Session, config *Config) *Leaderboard {
	return &Leaderboard{
		db: db,
		config: config,
	}
}

func (l *Leaderboard) Score(userID string, score int64) error {

	year, week := time.Now().ISOWeek()

	dayID := time.Now().Format("02-01-2006")
	weekID := strconv.Itoa(week) + "-" + strconv.Itoa(year)
	monthID := time.Now().Format("01-2006")

	conn := l.db.Copy()
	defer conn.Close()
	db := conn.DB(l.config.DBConfig.Name)

	err := l.scoreDetail(db, userID, "day", &dayID, score)
	if err != nil {
		return err
	}
	err = l.scoreDetail(db, userID, "week", &weekID, score)
	if err != nil {
		return err
	}
	err = l.scoreDetail(db, userID, "month", &monthID, score)
	if err != nil {
		return err
	}
	err = l.scoreDetail(db, userID, "overall", nil, score)
	if err != nil {
		return err
	}

	return nil

}

func (l Leaderboard) scoreDetail(db *mgo.Database, userID string, typeName string, typeID *string, score int64) error {

	entry := &model.LeaderboardEntry{}

	err := db.C(entry.GetCollectionName()).Find(bson.M{
		"userID": bson.ObjectIdHex(userID),
		"type": typeName,
		"typeID": typeID,
	}).One(entry)

	if err != nil {
		if err == mgo.ErrNotFound {
			entry.Score = score
			entry.Type = typeName
			entry.TypeID = typeID
			entry.UserID = bson.ObjectIdHex(userID)

			return db.C(entry.GetCollectionName()).Insert(entry)
		}
		return err
	}

	entry.Score += score
	return db.C(entry.GetCollectionName()).Update(bson.M{
		"_id": entry.Id,
	}, entry)

}

func (l Leaderboard) GetScores(typeName string, page int, itemCount int) ([]model.LeaderboardEntry, error) {

	year, week := time.Now().ISOWeek()

	dayID := time.Now().Format("02-01-2006")
	weekID := strconv.Itoa(week) + "-" + strconv.Itoa(year)
	monthID := time.Now().Format("01-2006")

	if typeName != "day" && typeName != "week" && typeName != "month" && typeName != "overall" {
		typeName = "overall"
	}

	var typeID *string

	if typeName == "day" {
		typeID = &dayID
	}else if typeName == "week" {
		typeID = &weekID
	}else if typeName == "month" {
		typeID = &monthID
	}

	scores := make([]model.LeaderboardEntry, 0)

	conn := l.db.Copy()
	defer conn.Close()
	db := conn.DB(l.config.DBConfig.Name)
	err := db.C(model.LeaderboardEntry{}.GetCollectionName()).Find(bson.M{
		"type": typeName,
		"typeID": typeID,
	}).Sort("-score").Skip(page*itemCount).Limit(itemCount).All(&scores)
	if err != nil {
		return nil, err
	}

	return scores, nil

}
