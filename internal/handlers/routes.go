package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes wires the authenticated HTTP intents.
func RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc, rooms *RoomHandler, messages *MessageHandler, coachHandler *CoachHandler) {
	g := r.Group("/", auth)

	g.GET("/rooms", rooms.ListRooms)
	g.POST("/rooms/private", rooms.CreatePrivateRoom)
	g.GET("/users/search", rooms.SearchUsers)
	g.PUT("/rooms/active", rooms.OpenRoom)
	g.DELETE("/rooms/active", rooms.CloseRoom)
	g.POST("/rooms/active/read", rooms.MarkRead)
	g.POST("/rooms/active/typing", rooms.Typing)

	g.GET("/messages", messages.ListMessages)
	g.POST("/messages", messages.SendMessage)
	g.DELETE("/messages/:message_id", messages.DeleteMessage)
	g.POST("/messages/:message_id/reactions", messages.React)

	g.POST("/coach/analyze", coachHandler.Analyze)
}
