package message

import "fmt"

// OpCode is the primary discriminator of a message. Codes are stable across the
// protocol: 1/2 are the keep-alive pair, then request/response pairs per feature area.
type OpCode uint32

const (
	OpPing               OpCode = 1 // client → server
	OpPong               OpCode = 2 // server → client
	OpPlayerFlowRequest  OpCode = 3
	OpPlayerFlowResponse OpCode = 4
	OpItemFlowRequest    OpCode = 5
	OpItemFlowResponse   OpCode = 6
)

func (o OpCode) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	case OpPlayerFlowRequest:
		return "player_flow_request"
	case OpPlayerFlowResponse:
		return "player_flow_response"
	case OpItemFlowRequest:
		return "item_flow_request"
	case OpItemFlowResponse:
		return "item_flow_response"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// FeatureArea pairs a request op code with the op code its responses carry.
// Each area owns a private space of sub-codes.
type FeatureArea struct {
	Name     string
	Request  OpCode
	Response OpCode
}

var (
	PlayerFlow = FeatureArea{Name: "player", Request: OpPlayerFlowRequest, Response: OpPlayerFlowResponse}
	ItemFlow   = FeatureArea{Name: "item", Request: OpItemFlowRequest, Response: OpItemFlowResponse}
)

// Areas lists every known feature area.
var Areas = []FeatureArea{PlayerFlow, ItemFlow}

// AreaByRequest looks up the feature area whose request code is op.
func AreaByRequest(op OpCode) (FeatureArea, bool) {
	for _, a := range Areas {
		if a.Request == op {
			return a, true
		}
	}
	return FeatureArea{}, false
}

// NewRequest builds a request message for action sub in this area.
func (a FeatureArea) NewRequest(sub uint32, data map[string]any) *Message {
	return New(a.Request).WithSubCode(sub).WithData(data)
}

// PlayerFlow sub-codes.
const (
	GetPlayerInfo uint32 = 1
	UpdateName    uint32 = 2
	BindPhone     uint32 = 3
)

// ItemFlow sub-codes.
const (
	GetAllItems uint32 = 1
	GetItemByID uint32 = 2
)
