package slack

import (
	"strings"

	"github.com/slack-go/slack/slackevents"

	"slackbridge/internal/domain"
)

// translateMessageEvent maps a live message event, including its edit and
// delete subtypes, onto the tagged inbound variants. Returns nil for shapes
// that carry nothing to process.
func translateMessageEvent(ev *slackevents.MessageEvent, selfUserID string) domain.InboundEvent {
	if ev == nil {
		return nil
	}
	switch ev.SubType {
	case "message_changed":
		if ev.Message == nil {
			return nil
		}
		inner := ev.Message
		return domain.Edit{Message: domain.NewMessage{
			ConversationID: ev.Channel,
			ID:             inner.Timestamp,
			SenderID:       inner.User,
			BotID:          inner.BotID,
			Text:           inner.Text,
			ThreadParent:   threadParent(inner.ThreadTimestamp, inner.Timestamp),
			SubType:        inner.SubType,
			Mention:        mentionsSelf(inner.Text, selfUserID),
			HasReplies:     inner.ReplyCount > 0,
			Files:          fileRefsFromHistory(inner.Files),
		}}
	case "message_deleted":
		del := domain.Delete{ConversationID: ev.Channel, ID: ev.DeletedTimeStamp}
		if ev.PreviousMessage != nil {
			del.SenderID = ev.PreviousMessage.User
			del.BotID = ev.PreviousMessage.BotID
		}
		if del.ID == "" {
			return nil
		}
		return del
	default:
		// File refs ride on the embedded message payload, not on the outer
		// event.
		var files []domain.FileRef
		if ev.Message != nil {
			files = fileRefsFromHistory(ev.Message.Files)
		}
		return domain.NewMessage{
			ConversationID: ev.Channel,
			ID:             ev.TimeStamp,
			SenderID:       ev.User,
			BotID:          ev.BotID,
			Text:           ev.Text,
			ThreadParent:   threadParent(ev.ThreadTimeStamp, ev.TimeStamp),
			SubType:        ev.SubType,
			Mention:        mentionsSelf(ev.Text, selfUserID),
			Files:          files,
		}
	}
}

func translateReactionAdded(ev *slackevents.ReactionAddedEvent) domain.InboundEvent {
	if ev == nil {
		return nil
	}
	return domain.Reaction{
		ConversationID: ev.Item.Channel,
		EventID:        ev.EventTimestamp,
		SenderID:       ev.User,
		Emoji:          ev.Reaction,
		ItemID:         ev.Item.Timestamp,
		ItemSenderID:   ev.ItemUser,
	}
}

func translateReactionRemoved(ev *slackevents.ReactionRemovedEvent) domain.InboundEvent {
	if ev == nil {
		return nil
	}
	return domain.Reaction{
		ConversationID: ev.Item.Channel,
		EventID:        ev.EventTimestamp,
		SenderID:       ev.User,
		Emoji:          ev.Reaction,
		ItemID:         ev.Item.Timestamp,
		ItemSenderID:   ev.ItemUser,
		Removed:        true,
	}
}

func threadParent(threadTS, ownTS string) string {
	if threadTS != "" && threadTS != ownTS {
		return threadTS
	}
	return ""
}

func mentionsSelf(text, selfUserID string) bool {
	return selfUserID != "" && strings.Contains(text, "<@"+selfUserID+">")
}
