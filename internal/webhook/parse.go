package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boardcast/pkg/models"
)

// ErrMalformedPayload means the body was not a recognizable Trello action
// delivery. Unknown action *types* are not malformed; they classify as
// EventOther.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// payload mirrors the slice of Trello's action delivery we consume.
type payload struct {
	Action struct {
		ID            string    `json:"id"`
		Type          string    `json:"type"`
		Date          time.Time `json:"date"`
		MemberCreator struct {
			Username string `json:"username"`
			FullName string `json:"fullName"`
		} `json:"memberCreator"`
		Data actionData `json:"data"`
	} `json:"action"`
	Model struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"model"`
}

type actionData struct {
	Board struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"board"`
	Card struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		ShortLink string `json:"shortLink"`
	} `json:"card"`
	List struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"list"`
	ListBefore struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"listBefore"`
	ListAfter struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"listAfter"`
	CheckItem struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"checkItem"`
	Member struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		FullName string `json:"fullName"`
	} `json:"member"`
	Old  map[string]json.RawMessage `json:"old"`
	Text string                     `json:"text"`
}

// Parse normalizes a verified delivery body into an InboundEvent. The
// upstream action vocabulary is wide and grows over time; anything not
// explicitly classified becomes EventOther rather than an error.
func Parse(body []byte) (*models.InboundEvent, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Action.Type == "" {
		return nil, fmt.Errorf("%w: missing action type", ErrMalformedPayload)
	}

	boardID := p.Action.Data.Board.ID
	if boardID == "" {
		boardID = p.Model.ID
	}
	if boardID == "" {
		return nil, fmt.Errorf("%w: no board id", ErrMalformedPayload)
	}

	actor := p.Action.MemberCreator.FullName
	if actor == "" {
		actor = p.Action.MemberCreator.Username
	}
	if actor == "" {
		actor = "someone"
	}

	event := &models.InboundEvent{
		BoardID:   boardID,
		Actor:     actor,
		Timestamp: p.Action.Date,
	}
	classify(event, &p)

	if event.SubjectID == "" {
		event.SubjectID = p.Action.ID
	}
	return event, nil
}

func classify(event *models.InboundEvent, p *payload) {
	d := &p.Action.Data
	card := d.Card.Name
	if d.Card.ShortLink != "" {
		event.Link = "https://trello.com/c/" + d.Card.ShortLink
	}

	switch p.Action.Type {
	case "createCard":
		event.Type = models.EventCardCreated
		event.SubjectID = d.Card.ID
		event.Summary = fmt.Sprintf("%s created card %q in %s", event.Actor, card, d.List.Name)

	case "updateCard":
		event.SubjectID = d.Card.ID
		switch {
		case d.ListBefore.ID != "" && d.ListAfter.ID != "":
			event.Type = models.EventCardMoved
			event.Summary = fmt.Sprintf("%s moved card %q from %s to %s",
				event.Actor, card, d.ListBefore.Name, d.ListAfter.Name)
		case hasOldField(d, "closed"):
			event.Type = models.EventCardUpdated
			event.Summary = fmt.Sprintf("%s archived or restored card %q", event.Actor, card)
		case hasOldField(d, "due"):
			event.Type = models.EventCardUpdated
			event.Summary = fmt.Sprintf("%s changed the due date on card %q", event.Actor, card)
		default:
			event.Type = models.EventCardUpdated
			event.Summary = fmt.Sprintf("%s updated card %q", event.Actor, card)
		}

	case "commentCard":
		event.Type = models.EventCommentAdded
		event.SubjectID = d.Card.ID
		event.Summary = fmt.Sprintf("%s commented on card %q: %s", event.Actor, card, truncate(d.Text, 140))

	case "addMemberToCard":
		event.Type = models.EventMemberAdded
		event.SubjectID = d.Card.ID
		event.Summary = fmt.Sprintf("%s added %s to card %q", event.Actor, memberName(d), card)

	case "removeMemberFromCard":
		event.Type = models.EventMemberRemoved
		event.SubjectID = d.Card.ID
		event.Summary = fmt.Sprintf("%s removed %s from card %q", event.Actor, memberName(d), card)

	case "updateCheckItemStateOnCard":
		event.Type = models.EventCheckItemStateSet
		event.SubjectID = d.Card.ID
		event.Summary = fmt.Sprintf("%s marked %q %s on card %q",
			event.Actor, d.CheckItem.Name, checkItemVerb(d.CheckItem.State), card)

	case "createList":
		event.Type = models.EventListCreated
		event.SubjectID = d.List.ID
		event.Summary = fmt.Sprintf("%s created list %q", event.Actor, d.List.Name)

	case "updateList":
		event.SubjectID = d.List.ID
		if hasOldField(d, "name") {
			event.Type = models.EventListRenamed
			event.Summary = fmt.Sprintf("%s renamed list %q", event.Actor, d.List.Name)
		} else {
			event.Type = models.EventOther
			event.Summary = fmt.Sprintf("%s updated list %q", event.Actor, d.List.Name)
		}

	default:
		event.Type = models.EventOther
		if card != "" {
			event.SubjectID = d.Card.ID
			event.Summary = fmt.Sprintf("%s updated card %q", event.Actor, card)
		} else {
			event.Summary = fmt.Sprintf("%s updated the board", event.Actor)
		}
	}
}

func hasOldField(d *actionData, field string) bool {
	_, ok := d.Old[field]
	return ok
}

func memberName(d *actionData) string {
	if d.Member.FullName != "" {
		return d.Member.FullName
	}
	if d.Member.Username != "" {
		return d.Member.Username
	}
	return "a member"
}

func checkItemVerb(state string) string {
	if state == "complete" {
		return "complete"
	}
	return "incomplete"
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
