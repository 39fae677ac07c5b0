package codec

type Vector2 struct {
	X, Y float32
}

type Vector3 struct {
	X, Y, Z float32
}

type Quaternion struct {
	X, Y, Z, W float32
}

var QuaternionIdentity = Quaternion{W: 1}

const MaxStringLength = 0xFFFF
