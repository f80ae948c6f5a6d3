package game

import "errors"

// Reason 校验失败的原因；Error() 即返回给客户端的可读文本
type Reason uint8

const (
	PlayerNotFound Reason = iota + 1
	PlayerDead
	InsufficientMovement
	InvalidPosition
	PositionOccupied
	SelfAttack
	AttackerNotFound
	AttackerDead
	InsufficientActionPoints
	TargetNotFound
	TargetAlreadyDead
	TargetOutOfRange
	NotYourTurn
)

var reasonText = map[Reason]string{
	PlayerNotFound:           "player not found",
	PlayerDead:               "player is dead",
	InsufficientMovement:     "not enough movement points",
	InvalidPosition:          "invalid position",
	PositionOccupied:         "position occupied",
	SelfAttack:               "cannot attack yourself",
	AttackerNotFound:         "attacker not found",
	AttackerDead:             "attacker is dead",
	InsufficientActionPoints: "not enough action points",
	TargetNotFound:           "target not found",
	TargetAlreadyDead:        "target is already dead",
	TargetOutOfRange:         "target out of range",
	NotYourTurn:              "not your turn",
}

func (r Reason) Error() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return "rejected"
}

// 便于 errors.Is 比较的哨兵
var (
	ErrPlayerNotFound           error = PlayerNotFound
	ErrPlayerDead               error = PlayerDead
	ErrInsufficientMovement     error = InsufficientMovement
	ErrInvalidPosition          error = InvalidPosition
	ErrPositionOccupied         error = PositionOccupied
	ErrSelfAttack               error = SelfAttack
	ErrAttackerNotFound         error = AttackerNotFound
	ErrAttackerDead             error = AttackerDead
	ErrInsufficientActionPoints error = InsufficientActionPoints
	ErrTargetNotFound           error = TargetNotFound
	ErrTargetAlreadyDead        error = TargetAlreadyDead
	ErrTargetOutOfRange         error = TargetOutOfRange
	ErrNotYourTurn              error = NotYourTurn
)

// ErrArenaClosed 引擎协程已停止，请求无法执行
var ErrArenaClosed = errors.New("game: arena closed")

// IsRejection 判断 err 是否为规则校验拒绝（而非基础设施错误）
func IsRejection(err error) bool {
	var r Reason
	return errors.As(err, &r)
}
