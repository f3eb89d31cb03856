package server

import (
	"math/rand"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/kayalardanmehmet/redsync-radix"
	"github.com/mediocregopher/radix/v3"
	"github.com/pkg/errors"

	"github.com/zyla1588-ctrl/BilliardsScoreCounter/model"
)

const roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

//Reservations expire on their own so codes of rooms that never made it
//into Mongo become mintable again.
const roomCodeReserveTTL = "86400"

//Validation failures of the durable room record. These bind the persisted
//record only, the live room registry applies its own rules.
var (
	ErrRoomNameEmpty = errors.New("room name couldn't be empty")
	ErrRoomSizeInvalid = errors.New("room size is out of the allowed range")
	ErrRoomNotJoinable = errors.New("room is not accepting players anymore")
	ErrRoomFull = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("player is already in the room")
	ErrNotRoomCreator = errors.New("only the room creator can do that")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrUserNotFound = errors.New("user does not exist")
)

//MongoGateway is the durable-storage collaborator. It owns the room,
//membership and score-log records and feeds the leaderboard aggregates.
//Room codes are reserved in Redis under a distributed mutex so two nodes
//can't mint the same code.
type MongoGateway struct {
	db *mgo.Session
	redis radix.Client
	leaderboard *Leaderboard
	config *Config
	logger *Logger
}

func NewMongoGateway(db *mgo.Session, redis radix.Client, leaderboard *Leaderboard, config *Config, logger *Logger) *MongoGateway {
	return &MongoGateway{
		db: db,
		redis: redis,
		leaderboard: leaderboard,
		config: config,
		logger: logger,
	}
}

func ConnectDB(config *Config, logger *Logger) *mgo.Session {

	conn, err := mgo.Dial(config.DBConfig.ConnString)
	if err != nil {
		logger.Fatalw("Cannot dial mongo", "error", err)
	}
	logger.Info("Mongo connection completed")
	return conn

}

func ConnectRedis(config *Config, logger *Logger) *radix.Pool {

	pool, err := radix.NewPool("tcp", config.RedisConfig.ConnString, config.RedisConfig.PoolSize)
	if err != nil {
		logger.Fatalw("Cannot connect to redis", "error", err)
	}
	logger.Info("Redis connection completed")
	return pool

}

func (g *MongoGateway) generateRoomCode() string {
	code := make([]byte, g.config.RoomConfig.CodeLength)
	for i := range code {
		code[i] = roomCodeCharset[rand.Intn(len(roomCodeCharset))]
	}
	return string(code)
}

//reserveRoomCode picks a code that neither Redis nor Mongo has seen. The
//redsync mutex covers the check-then-reserve window across nodes.
func (g *MongoGateway) reserveRoomCode(db *mgo.Database) (string, error) {

	if g.redis != nil {
		rs := redsyncradix.New([]radix.Client{g.redis})
		mutex := rs.NewMutex("lock|roomcode")
		if err := mutex.Lock(); err != nil {
			g.logger.Warnw("Could not acquire room code lock, continuing without it", "error", err)
		} else {
			defer mutex.Unlock()
		}
	}

	for attempt := 0; attempt < 100; attempt++ {
		code := g.generateRoomCode()

		if g.redis != nil {
			var reserved string
			if err := g.redis.Do(radix.Cmd(&reserved, "SET", "roomcode:"+code, "1", "NX", "EX", roomCodeReserveTTL)); err != nil {
				return "", errors.Wrap(err, "could not reserve room code in redis")
			}
			if reserved == "" {
				continue
			}
		}

		count, err := db.C(model.Room{}.GetCollectionName()).Find(bson.M{"code": code}).Count()
		if err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}

	return "", errors.New("could not generate a unique room code")

}

func (g *MongoGateway) CreateRoom(name string, maxPlayers int, creatorID string) (*model.Room, error) {

	if name == "" {
		return nil, ErrRoomNameEmpty
	}
	if maxPlayers == 0 {
		maxPlayers = g.config.RoomConfig.DefaultMaxPlayers
	}
	if maxPlayers < g.config.RoomConfig.MinPlayers || maxPlayers > g.config.RoomConfig.MaxPlayers {
		return nil, ErrRoomSizeInvalid
	}
	if !bson.IsObjectIdHex(creatorID) {
		return nil, ErrUserNotFound
	}

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	code, err := g.reserveRoomCode(db)
	if err != nil {
		return nil, err
	}

	room := &model.Room{
		Id: bson.NewObjectId(),
		Name: name,
		Code: code,
		CreatorID: bson.ObjectIdHex(creatorID),
		MaxPlayers: maxPlayers,
		Status: model.RoomStatusWaiting,
		CreatedAt: time.Now().UTC(),
	}

	if err := db.C(room.GetCollectionName()).Insert(room); err != nil {
		return nil, err
	}

	//The creator joins their own room right away
	player := &model.RoomPlayer{
		Id: bson.NewObjectId(),
		RoomCode: code,
		UserID: room.CreatorID,
		JoinedAt: time.Now().UTC(),
	}
	if err := db.C(player.GetCollectionName()).Insert(player); err != nil {
		return nil, err
	}

	return room, nil

}

func (g *MongoGateway) FetchRoom(code string) (*model.Room, []model.RoomPlayer, error) {

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	room := &model.Room{}
	err := db.C(room.GetCollectionName()).Find(bson.M{"code": code}).One(room)
	if err != nil {
		if err == mgo.ErrNotFound {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, err
	}

	players := make([]model.RoomPlayer, 0)
	err = db.C(model.RoomPlayer{}.GetCollectionName()).Find(bson.M{"roomCode": code}).Sort("joinedAt").All(&players)
	if err != nil {
		return nil, nil, err
	}

	return room, players, nil

}

//JoinRoom is the strict request/response join for the durable record: only
//waiting rooms below capacity accept new players, and double joins are
//rejected.
func (g *MongoGateway) JoinRoom(code string, userID string) (*model.Room, error) {

	if !bson.IsObjectIdHex(userID) {
		return nil, ErrUserNotFound
	}

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	room := &model.Room{}
	err := db.C(room.GetCollectionName()).Find(bson.M{"code": code}).One(room)
	if err != nil {
		if err == mgo.ErrNotFound {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	if room.Status != model.RoomStatusWaiting {
		return nil, ErrRoomNotJoinable
	}

	playerColl := db.C(model.RoomPlayer{}.GetCollectionName())

	count, err := playerColl.Find(bson.M{"roomCode": code}).Count()
	if err != nil {
		return nil, err
	}
	if count >= room.MaxPlayers {
		return nil, ErrRoomFull
	}

	existing, err := playerColl.Find(bson.M{"roomCode": code, "userID": bson.ObjectIdHex(userID)}).Count()
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrAlreadyInRoom
	}

	player := &model.RoomPlayer{
		Id: bson.NewObjectId(),
		RoomCode: code,
		UserID: bson.ObjectIdHex(userID),
		JoinedAt: time.Now().UTC(),
	}
	if err := playerColl.Insert(player); err != nil {
		return nil, err
	}

	return room, nil

}

func (g *MongoGateway) StartRoom(code string, userID string) error {

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	room := &model.Room{}
	err := db.C(room.GetCollectionName()).Find(bson.M{"code": code}).One(room)
	if err != nil {
		if err == mgo.ErrNotFound {
			return ErrRoomNotFound
		}
		return err
	}

	if room.CreatorID.Hex() != userID {
		return ErrNotRoomCreator
	}
	if room.Status != model.RoomStatusWaiting {
		return ErrInvalidTransition
	}

	count, err := db.C(model.RoomPlayer{}.GetCollectionName()).Find(bson.M{"roomCode": code}).Count()
	if err != nil {
		return err
	}
	if count < g.config.RoomConfig.MinPlayers {
		return ErrNotEnoughPlayers
	}

	return db.C(room.GetCollectionName()).UpdateId(room.Id, bson.M{"$set": bson.M{"status": model.RoomStatusPlaying}})

}

//EndRoom flips the durable record into its terminal state and returns the
//final ranking sorted by score.
func (g *MongoGateway) EndRoom(code string, userID string) ([]model.RoomPlayer, error) {

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	room := &model.Room{}
	err := db.C(room.GetCollectionName()).Find(bson.M{"code": code}).One(room)
	if err != nil {
		if err == mgo.ErrNotFound {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	if room.CreatorID.Hex() != userID {
		return nil, ErrNotRoomCreator
	}
	if room.Status != model.RoomStatusPlaying {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	err = db.C(room.GetCollectionName()).UpdateId(room.Id, bson.M{"$set": bson.M{
		"status": model.RoomStatusEnded,
		"endedAt": now,
	}})
	if err != nil {
		return nil, err
	}

	ranking := make([]model.RoomPlayer, 0)
	err = db.C(model.RoomPlayer{}.GetCollectionName()).Find(bson.M{"roomCode": code}).Sort("-score").All(&ranking)
	if err != nil {
		return nil, err
	}

	return ranking, nil

}

//LeaveRoom removes the durable membership record and errors when the user
//wasn't a member. Creator ownership moves to the longest-standing remaining
//player, or the room is destroyed when the creator was the last one out.
func (g *MongoGateway) LeaveRoom(code string, userID string) error {

	if !bson.IsObjectIdHex(userID) {
		return ErrUserNotFound
	}

	removed, err := g.removeMembership(code, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotAMember
	}
	return nil

}

//RecordMembership is the best-effort variant used by the realtime path. A
//player already present is left untouched.
func (g *MongoGateway) RecordMembership(roomCode string, userID string) error {

	if !bson.IsObjectIdHex(userID) {
		return ErrUserNotFound
	}

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	playerColl := db.C(model.RoomPlayer{}.GetCollectionName())
	count, err := playerColl.Find(bson.M{"roomCode": roomCode, "userID": bson.ObjectIdHex(userID)}).Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return playerColl.Insert(&model.RoomPlayer{
		Id: bson.NewObjectId(),
		RoomCode: roomCode,
		UserID: bson.ObjectIdHex(userID),
		JoinedAt: time.Now().UTC(),
	})

}

//RemoveMembership is the best-effort variant used by the realtime path, it
//tolerates a record that is already gone.
func (g *MongoGateway) RemoveMembership(roomCode string, userID string) error {

	if !bson.IsObjectIdHex(userID) {
		return ErrUserNotFound
	}

	_, err := g.removeMembership(roomCode, userID)
	return err

}

func (g *MongoGateway) removeMembership(roomCode string, userID string) (bool, error) {

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	roomColl := db.C(model.Room{}.GetCollectionName())
	playerColl := db.C(model.RoomPlayer{}.GetCollectionName())

	room := &model.Room{}
	err := roomColl.Find(bson.M{"code": roomCode}).One(room)
	if err != nil {
		if err == mgo.ErrNotFound {
			return false, ErrRoomNotFound
		}
		return false, err
	}

	err = playerColl.Remove(bson.M{"roomCode": roomCode, "userID": bson.ObjectIdHex(userID)})
	if err != nil {
		if err == mgo.ErrNotFound {
			return false, nil
		}
		return false, err
	}

	//Ownership transfers to the longest-standing remaining player when the
	//creator leaves. With nobody left the room record is destroyed.
	if room.CreatorID.Hex() == userID {
		remaining := make([]model.RoomPlayer, 0)
		err = playerColl.Find(bson.M{"roomCode": roomCode}).Sort("joinedAt").All(&remaining)
		if err != nil {
			return true, err
		}

		if len(remaining) > 0 {
			err = roomColl.UpdateId(room.Id, bson.M{"$set": bson.M{"creatorID": remaining[0].UserID}})
			if err != nil {
				return true, err
			}
			g.logger.Infow("Room ownership was transferred", "roomCode", roomCode, "newCreatorID", remaining[0].UserID.Hex())
		} else {
			if err := roomColl.RemoveId(room.Id); err != nil {
				return true, err
			}
			if g.redis != nil {
				//Release the code reservation so it can be minted again.
				if err := g.redis.Do(radix.Cmd(nil, "DEL", "roomcode:"+roomCode)); err != nil {
					g.logger.Warnw("Could not release room code reservation", "roomCode", roomCode, "error", err)
				}
			}
			g.logger.Infow("Room record was destroyed", "roomCode", roomCode)
		}
	}

	return true, nil

}

func (g *MongoGateway) RecordScoreDelta(roomCode string, fromUser string, toUser string, points int, action string) error {

	if !bson.IsObjectIdHex(fromUser) || !bson.IsObjectIdHex(toUser) {
		return ErrUserNotFound
	}

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	room := &model.Room{}
	err := db.C(room.GetCollectionName()).Find(bson.M{"code": roomCode}).One(room)
	if err != nil {
		if err == mgo.ErrNotFound {
			return ErrRoomNotFound
		}
		return err
	}
	if room.Status != model.RoomStatusPlaying {
		return ErrInvalidTransition
	}

	err = db.C(model.RoomPlayer{}.GetCollectionName()).Update(
		bson.M{"roomCode": roomCode, "userID": bson.ObjectIdHex(toUser)},
		bson.M{"$inc": bson.M{"score": points}},
	)
	if err != nil {
		if err == mgo.ErrNotFound {
			return ErrNotAMember
		}
		return err
	}

	err = db.C(model.ScoreLog{}.GetCollectionName()).Insert(&model.ScoreLog{
		Id: bson.NewObjectId(),
		RoomCode: roomCode,
		FromUser: bson.ObjectIdHex(fromUser),
		ToUser: bson.ObjectIdHex(toUser),
		Points: points,
		Action: action,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := g.leaderboard.Score(toUser, int64(points)); err != nil {
		g.logger.Errorw("Could not update leaderboard", "userID", toUser, "points", points, "error", err)
	}

	return nil

}

func (g *MongoGateway) SetRoomStatus(roomCode string, status string) error {

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	update := bson.M{"status": status}
	if status == model.RoomStatusEnded {
		update["endedAt"] = time.Now().UTC()
	}

	err := db.C(model.Room{}.GetCollectionName()).Update(bson.M{"code": roomCode}, bson.M{"$set": update})
	if err == mgo.ErrNotFound {
		return ErrRoomNotFound
	}
	return err

}

func (g *MongoGateway) ScoreLogs(roomCode string) ([]model.ScoreLog, error) {

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	logs := make([]model.ScoreLog, 0)
	err := db.C(model.ScoreLog{}.GetCollectionName()).Find(bson.M{"roomCode": roomCode}).Sort("createdAt").All(&logs)
	if err != nil {
		return nil, err
	}
	return logs, nil

}

func (g *MongoGateway) User(userID string) (*model.User, error) {

	if !bson.IsObjectIdHex(userID) {
		return nil, ErrUserNotFound
	}

	conn := g.db.Copy()
	defer conn.Close()
	db := conn.DB(g.config.DBConfig.Name)

	user := &model.User{}
	err := db.C(user.GetCollectionName()).FindId(bson.ObjectIdHex(userID)).One(user)
	if err != nil {
		if err == mgo.ErrNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil

}

//DisplayName implements the registry's NameResolver.
func (g *MongoGateway) DisplayName(userID string) (string, error) {
	user, err := g.User(userID)
	if err != nil {
		return "", err
	}
	return user.DisplayName, nil
}
