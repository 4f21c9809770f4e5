package model

import (
	"strconv"

	"github.com/google/uuid"
)

type OwnerType string

const (
	OwnerTypeAnonymous OwnerType = "ANONYMOUS"
	OwnerTypeUser      OwnerType = "USER"
)

// Owner はカートの持ち主。匿名セッションか認証済みユーザーのどちらか。
// 期限切れ判定やマージは Type で分岐する。
type Owner struct {
	Type OwnerType
	Key  string
}

func AnonymousOwner(sessionID string) Owner {
	return Owner{Type: OwnerTypeAnonymous, Key: sessionID}
}

// 初回アクセス時の匿名セッション発行
func NewAnonymousOwner() Owner {
	return AnonymousOwner(uuid.NewString())
}

func UserOwner(userID int64) Owner {
	return Owner{Type: OwnerTypeUser, Key: strconv.FormatInt(userID, 10)}
}

func (o Owner) IsAnonymous() bool {
	return o.Type == OwnerTypeAnonymous
}
