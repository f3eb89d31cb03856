package server

import (
	"crypto"
	"fmt"
	"strings"
	"time"

	"cirello.io/goherokuname"
	"github.com/dgrijalva/jwt-go"
	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"

	"github.com/zyla1588-ctrl/BilliardsScoreCounter/model"
)

//AuthenticateFingerprint resolves a device fingerprint to a user, creating
//a guest account with a generated display name on first sight.
func AuthenticateFingerprint(fingerprint string, conn *mgo.Session, config *Config) (*model.User, error) {

	if fingerprint == "" {
		return nil, errors.New("fingerprint couldn't be empty")
	}

	cConn := conn.Copy()
	defer cConn.Close()
	db := cConn.DB(config.DBConfig.Name)

	//First check if user exists with given fingerprint
	user := &model.User{}

	err := db.C(user.GetCollectionName()).Find(bson.M{
		"fingerprint": fingerprint,
	}).One(user)
	if err != nil{
		if err.Error() == mgo.ErrNotFound.Error() {

			username := goherokuname.HaikunateCustom("-", 4, "DfWx9873214560jzrl")

			//Generate user name until find one that doesn't exists in db
			for {
				count, err := db.C(user.GetCollectionName()).Find(bson.M{"username": username}).Count()
				if err != nil {
					return nil, err
				}
				if count == 0 {
					break
				}
				username = goherokuname.HaikunateCustom("-", 4, "DfWx9873214560jzrl")
			}

			user := &model.User{
				Id: bson.NewObjectId(),
				Username: username,
				Fingerprint: fingerprint,
				DisplayName: username,
				AvatarUrl: "https://api.adorable.io/avatars/150/" + username + ".png",
			}

			err = db.C(user.GetCollectionName()).Insert(&user)
			if err != nil {
				return nil, err
			}

			return user, nil

		}

		return nil, err
	}

	return user, nil

}

func generateToken(userID, username string, config *Config) (string, int64) {
	exp := time.Now().UTC().Add(time.Duration(config.AuthConfig.TokenExpireTime) * time.Second).Unix()
	return generateTokenWithExpiry(userID, username, exp, config)
}

func generateTokenWithExpiry(userID, username string, exp int64, config *Config) (string, int64) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": userID,
		"exp": exp,
		"usn": username,
	})
	signedToken, _ := token.SignedString([]byte(config.AuthConfig.JWTSecret))
	return signedToken, exp
}

func parseBearerAuth(hmacSecretByte []byte, auth string) (userID string, username string, exp int64, ok bool) {
	if auth == "" {
		return
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return
	}
	return parseToken(hmacSecretByte, string(auth[len(prefix):]))
}

func parseToken(hmacSecretByte []byte, tokenString string) (userID string, username string, exp int64, ok bool) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if s, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || s.Hash != crypto.SHA256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return hmacSecretByte, nil
	})
	if err != nil {
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return
	}
	userID, ok = claims["uid"].(string)
	if !ok {
		return
	}
	username, _ = claims["usn"].(string)
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return
	}
	return userID, username, int64(expFloat), true
}
