package service

import (
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/connectly/internal/mocks"
	"github.com/connectly/internal/model"
)

func TestSetTypingExcludesOrigin(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockBroadcaster(ctrl)
	tc := NewTypingCoordinator(bus)

	bus.EXPECT().EmitExcept("c1", "conn-1", model.EventTyping, model.Typing{
		ChatID: "c1", UserID: "u1", IsTyping: true,
	}).Times(1)
	bus.EXPECT().EmitExcept("c1", "conn-1", model.EventTyping, model.Typing{
		ChatID: "c1", UserID: "u1", IsTyping: false,
	}).Times(1)

	tc.SetTyping(" c1 ", "u1", true, "conn-1")
	tc.SetTyping("c1", "u1", false, "conn-1")
}

func TestSetTypingIgnoresBlankChat(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockBroadcaster(ctrl)
	tc := NewTypingCoordinator(bus)

	tc.SetTyping("   ", "u1", true, "conn-1")
	tc.SetTyping("c1", "", true, "conn-1")
}
