package router

import (
	"github.com/boardcast/pkg/models"
)

// Embed colors per event kind, loosely following Discord conventions:
// green for creation, blue for movement, grey for everything routine.
const (
	colorGreen  = 0x2ecc71
	colorBlue   = 0x3498db
	colorYellow = 0xf1c40f
	colorOrange = 0xe67e22
	colorRed    = 0xe74c3c
	colorGrey   = 0x95a5a6
)

var eventTitles = map[models.EventType]string{
	models.EventCardCreated:       "Card created",
	models.EventCardUpdated:       "Card updated",
	models.EventCardMoved:         "Card moved",
	models.EventCommentAdded:      "New comment",
	models.EventMemberAdded:       "Member added",
	models.EventMemberRemoved:     "Member removed",
	models.EventCheckItemStateSet: "Checklist updated",
	models.EventListCreated:       "List created",
	models.EventListRenamed:       "List renamed",
}

var eventColors = map[models.EventType]int{
	models.EventCardCreated:       colorGreen,
	models.EventCardUpdated:       colorYellow,
	models.EventCardMoved:         colorBlue,
	models.EventCommentAdded:      colorOrange,
	models.EventMemberAdded:       colorGreen,
	models.EventMemberRemoved:     colorRed,
	models.EventCheckItemStateSet: colorBlue,
	models.EventListCreated:       colorGreen,
	models.EventListRenamed:       colorYellow,
}

// formatNotification renders an event for one target channel. Pure: same
// event and target always produce the same notification.
func formatNotification(event *models.InboundEvent, target models.ChannelMapping) models.Notification {
	title, ok := eventTitles[event.Type]
	if !ok {
		title = "Board activity"
	}
	color, ok := eventColors[event.Type]
	if !ok {
		color = colorGrey
	}

	return models.Notification{
		ChannelID: target.ChannelID,
		Title:     title,
		Body:      event.Summary,
		Color:     color,
		Link:      event.Link,
	}
}
