package server

import (
	"context"
	"errors"
	"fmt"

	"mini-ws/message"
)

// Reply keys, camelCase as the gateway sends them.
const (
	keySuccess   = "success"
	keyErrorCode = "errorCode"
	keyErrorMsg  = "errorMsg"
)

// Error codes for replies that never reached an action.
const (
	CodeUnknownAction = 404
	CodeInternal      = 500
)

// ActionFunc handles one sub-code. The returned data becomes the reply's data.
type ActionFunc func(ctx context.Context, data map[string]any) (map[string]any, error)

// AppError is a business failure reported to the client in the reply body.
type AppError struct {
	Code int64
	Msg  string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Msg)
}

// Service is one feature area: its request op code and an action per sub-code.
type Service struct {
	area    message.FeatureArea
	actions map[uint32]ActionFunc
}

func NewService(area message.FeatureArea) *Service {
	return &Service{area: area, actions: make(map[uint32]ActionFunc)}
}

// Handle registers fn for sub-code sub and returns s for chaining.
func (s *Service) Handle(sub uint32, fn ActionFunc) *Service {
	s.actions[sub] = fn
	return s
}

// call runs the action for m's sub-code and builds the reply on the area's
// response op code, echoing the sub-code.
func (s *Service) call(ctx context.Context, m *message.Message) *message.Message {
	reply := message.New(s.area.Response).WithSubCode(m.Sub())

	fn, ok := s.actions[m.Sub()]
	if !ok {
		return failed(reply, CodeUnknownAction, fmt.Sprintf("unknown sub_code %d for %s", m.Sub(), s.area.Name))
	}

	data := m.Data
	if data == nil {
		data = map[string]any{}
	}
	out, err := fn(ctx, data)
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return failed(reply, appErr.Code, appErr.Msg)
		}
		return failed(reply, CodeInternal, err.Error())
	}

	if out == nil {
		out = map[string]any{}
	}
	reply.WithData(out)
	reply.Extra = map[string]any{keySuccess: true, keyErrorCode: int64(0)}
	return reply
}

func failed(reply *message.Message, code int64, msg string) *message.Message {
	reply.Extra = map[string]any{keySuccess: false, keyErrorCode: code, keyErrorMsg: msg}
	return reply
}
