package server

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mini-ws/message"
)

// Business error codes of the demo gateway.
const (
	CodeInvalidName  = 1001
	CodeInvalidPhone = 1002
	CodeItemNotFound = 1003
)

type player struct {
	UserID int64
	Name   string `validate:"required,max=16"`
	Phone  string `validate:"omitempty,numeric,len=11"`
}

type item struct {
	ItemID int64
	Name   string
	Count  int64
}

// demoState is the in-memory player and inventory behind NewDemoServer.
type demoState struct {
	mu       sync.RWMutex
	validate *validator.Validate
	player   player
	items    []item
}

// NewDemoServer returns a gateway serving the player and item flows for one
// in-memory player. Each connection first receives the player info push.
func NewDemoServer(logger *zap.Logger) *Server {
	st := &demoState{
		validate: validator.New(),
		player:   player{UserID: 10001, Name: "player-10001"},
		items: []item{
			{ItemID: 1, Name: "potion", Count: 5},
			{ItemID: 2, Name: "sword", Count: 1},
			{ItemID: 3, Name: "shield", Count: 1},
		},
	}

	s := NewServer(Options{
		Logger: logger,
		InitPush: func() *message.Message {
			return message.New(message.OpPlayerFlowResponse).
				WithSubCode(message.GetPlayerInfo).
				WithData(st.playerInfo())
		},
	})
	s.Register(NewService(message.PlayerFlow).
		Handle(message.GetPlayerInfo, st.getPlayerInfo).
		Handle(message.UpdateName, st.updateName).
		Handle(message.BindPhone, st.bindPhone))
	s.Register(NewService(message.ItemFlow).
		Handle(message.GetAllItems, st.getAllItems).
		Handle(message.GetItemByID, st.getItemByID))
	return s
}

func (st *demoState) playerInfo() map[string]any {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return map[string]any{"playerInfo": map[string]any{
		"userID": st.player.UserID,
		"name":   st.player.Name,
		"phone":  st.player.Phone,
	}}
}

func (st *demoState) getPlayerInfo(context.Context, map[string]any) (map[string]any, error) {
	return st.playerInfo(), nil
}

func (st *demoState) updateName(_ context.Context, data map[string]any) (map[string]any, error) {
	name, _ := data["name"].(string)
	if err := st.update(func(p *player) { p.Name = name }); err != nil {
		return nil, &AppError{Code: CodeInvalidName, Msg: "invalid name"}
	}
	return st.playerInfo(), nil
}

func (st *demoState) bindPhone(_ context.Context, data map[string]any) (map[string]any, error) {
	phone, _ := data["phone"].(string)
	if phone == "" {
		return nil, &AppError{Code: CodeInvalidPhone, Msg: "invalid phone"}
	}
	if err := st.update(func(p *player) { p.Phone = phone }); err != nil {
		return nil, &AppError{Code: CodeInvalidPhone, Msg: "invalid phone"}
	}
	return st.playerInfo(), nil
}

// update applies fn to a copy of the player and keeps it only if it validates.
func (st *demoState) update(fn func(p *player)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.player
	fn(&next)
	if err := st.validate.Struct(next); err != nil {
		return err
	}
	st.player = next
	return nil
}

func (st *demoState) getAllItems(context.Context, map[string]any) (map[string]any, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	list := make([]any, 0, len(st.items))
	for _, it := range st.items {
		list = append(list, itemMap(it))
	}
	return map[string]any{"itemList": list}, nil
}

func (st *demoState) getItemByID(_ context.Context, data map[string]any) (map[string]any, error) {
	id, ok := toInt64(data["id"])
	if !ok {
		return nil, &AppError{Code: CodeItemNotFound, Msg: "item id required"}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, it := range st.items {
		if it.ItemID == id {
			return map[string]any{"item": itemMap(it)}, nil
		}
	}
	return nil, &AppError{Code: CodeItemNotFound, Msg: "item not found"}
}

func itemMap(it item) map[string]any {
	return map[string]any{"itemID": it.ItemID, "name": it.Name, "count": it.Count}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
