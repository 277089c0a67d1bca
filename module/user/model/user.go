package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Status
const (
	UserNormal int32 = 0
	UserBanned int32 = 1
	UserClosed int32 = 2
)

// User 用户主档；密码只存 bcrypt hash。
type User struct {
	UserID       string `bson:"user_id" json:"user_id"` // 全局唯一、不可变的用户ID（主键）
	Email        string `bson:"email" json:"email"`
	Nickname     string `bson:"nickname" json:"nickname"`
	PasswordHash string `bson:"password_hash" json:"-"`
	Status       int32  `bson:"status,omitempty" json:"status"` // 0=正常,1=禁用,2=注销

	LastLoginIP   string     `bson:"last_login_ip,omitempty" json:"-"`
	LastLoginTime *time.Time `bson:"last_login_time,omitempty" json:"last_login_time,omitempty"`

	CreateTime time.Time `bson:"create_time" json:"create_time"`
	UpdateTime time.Time `bson:"update_time" json:"update_time"`
}

func (u *User) Active() bool {
	return u.Status == UserNormal
}

func (u *User) GetTableName() string {
	return "user"
}

func (u *User) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
}

// Public is the user view returned by the HTTP layer.
type Public struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

func (u *User) Public() Public {
	return Public{UserID: u.UserID, Email: u.Email, Nickname: u.Nickname}
}
