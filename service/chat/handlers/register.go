package handlers

import "consultchat/service/chat"

// RegisterAll 注册全部入站事件
func RegisterAll(s *chat.Server) {
	s.Disp().Register(
		NewJoinHandler(),
		NewSendHandler(),
		NewEditHandler(),
		NewDeleteHandler(),
		NewTypingHandler(),
	)
}
