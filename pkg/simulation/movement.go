package simulation

import (
	"math"
	"time"

	"github.com/sessamekesh/netsync/pkg/codec"
)

// MovementParams is shared by the server and by client-side prediction; both sides must use
// identical values or reconciliation will keep correcting the local player.
type MovementParams struct {
	MoveSpeed  float32
	JumpHeight float32
	FallSpeed  float32
}

var DefaultMovementParams = MovementParams{
	MoveSpeed:  5,
	JumpHeight: 1.5,
	FallSpeed:  4,
}

type PlayerKinematics struct {
	Position codec.Vector3
	Rotation codec.Quaternion
}

// StepMovement advances a player by one tick. Movement happens on the XZ plane; a jump
// lifts a grounded player to JumpHeight and gravity brings them back down at FallSpeed.
// The step only depends on its inputs so replaying inputs reproduces the same result.
func StepMovement(state PlayerKinematics, move codec.Vector2, jump bool, dt time.Duration, params MovementParams) PlayerKinematics {
	seconds := float32(dt.Seconds())

	length := float32(math.Hypot(float64(move.X), float64(move.Y)))
	if length > 1 {
		move.X /= length
		move.Y /= length
	}

	state.Position.X += move.X * params.MoveSpeed * seconds
	state.Position.Z += move.Y * params.MoveSpeed * seconds

	if jump && state.Position.Y <= 0 {
		state.Position.Y = params.JumpHeight
	} else if state.Position.Y > 0 {
		state.Position.Y -= params.FallSpeed * seconds
		if state.Position.Y < 0 {
			state.Position.Y = 0
		}
	}

	if length > 0 {
		state.Rotation = yawQuaternion(float32(math.Atan2(float64(move.X), float64(move.Y))))
	}

	return state
}

func yawQuaternion(yaw float32) codec.Quaternion {
	half := float64(yaw) / 2
	return codec.Quaternion{
		Y: float32(math.Sin(half)),
		W: float32(math.Cos(half)),
	}
}
