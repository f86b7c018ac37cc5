package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/connectify-dev/meet-api/internal/data"
	"github.com/connectify-dev/meet-api/internal/sfu"
)

const socketOpTimeout = 5 * time.Second

func (app *application) handleSocketEvent(c *Client, event socketEvent) {
	switch event.Event {
	case "join-room":
		app.joinRoomEvent(c, event)
	case "leave-room":
		app.leaveRoomEvent(c, event)
	case "send-message":
		app.sendMessageEvent(c, event)
	case "sfu:join":
		app.sfuJoinEvent(c, event)
	case "sfu:create-transport":
		app.sfuCreateTransportEvent(c, event)
	case "sfu:connect-transport":
		app.sfuConnectTransportEvent(c, event)
	case "sfu:produce":
		app.sfuProduceEvent(c, event)
	case "sfu:consume":
		app.sfuConsumeEvent(c, event)
	case "sfu:resume-consumer":
		app.sfuResumeConsumerEvent(c, event)
	case "sfu:pause-producer":
		app.sfuToggleProducerEvent(c, event, true)
	case "sfu:resume-producer":
		app.sfuToggleProducerEvent(c, event, false)
	default:
		c.replyError(event.Event, event.ID, "unknown event")
	}
}

// roomSessionFor re-derives the caller's standing in a room from the
// store. The socket payload never carries a host claim worth trusting.
func (app *application) roomSessionFor(c *Client, roomToken string) (*data.RoomSession, error) {
	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	return app.models.RoomSessions.GetActiveForUser(ctx, roomToken, c.userID)
}

// joinRoomEvent puts the connection in the room's broadcast scopes. The
// isHost flag in the payload is accepted for wire compatibility but never
// trusted: host standing comes from the caller's room session row. Host
// connections additionally sit in the host scope, which is where
// join-request knocks land.
func (app *application) joinRoomEvent(c *Client, event socketEvent) {
	var input struct {
		RoomID string `json:"roomId"`
		IsHost bool   `json:"isHost"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomID == "" {
		c.replyError(event.Event, event.ID, "roomId is required")
		return
	}

	rs, err := app.roomSessionFor(c, input.RoomID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.replyError(event.Event, event.ID, "no active room session")
			return
		}
		app.logger.Printf("ws: resolving room session: %v", err)
		c.replyError(event.Event, event.ID, "internal error")
		return
	}

	app.hub.Subscribe(c, rs.RoomToken)
	if rs.IsHost {
		app.hub.Subscribe(c, hostScope(rs.RoomToken))
	}

	c.reply(event.Event, event.ID, envelope{"roomId": rs.RoomToken, "isHost": rs.IsHost})
}

func (app *application) leaveRoomEvent(c *Client, event socketEvent) {
	var input struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomID == "" {
		c.replyError(event.Event, event.ID, "roomId is required")
		return
	}

	app.hub.Unsubscribe(c, input.RoomID)
	app.hub.Unsubscribe(c, hostScope(input.RoomID))
	c.reply(event.Event, event.ID, envelope{"roomId": input.RoomID})
}

// sendMessageEvent relays a chat message to the room, sender excluded.
// Messages are not persisted.
func (app *application) sendMessageEvent(c *Client, event socketEvent) {
	var input struct {
		RoomID  string `json:"roomId"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomID == "" || input.Message == "" {
		c.replyError(event.Event, event.ID, "roomId and message are required")
		return
	}

	if !app.hub.InScope(c, input.RoomID) {
		c.replyError(event.Event, event.ID, "not in this room")
		return
	}

	app.hub.Broadcast(input.RoomID, "receive-message", envelope{
		"userId":  c.userID,
		"message": input.Message,
		"sentAt":  time.Now().UTC(),
	}, c)
	c.reply(event.Event, event.ID, nil)
}

func (app *application) sfuJoinEvent(c *Client, event socketEvent) {
	var input struct {
		RoomToken string `json:"roomToken"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" {
		c.replyError(event.Event, event.ID, "roomToken is required")
		return
	}

	if _, err := app.roomSessionFor(c, input.RoomToken); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.replyError(event.Event, event.ID, "no active room session")
			return
		}
		app.logger.Printf("ws: resolving room session: %v", err)
		c.replyError(event.Event, event.ID, "internal error")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	res, err := app.sfu.Join(ctx, input.RoomToken, c.id, c.userID, c)
	if err != nil {
		app.logger.Printf("sfu: join: %v", err)
		c.replyError(event.Event, event.ID, "internal error")
		return
	}
	c.reply(event.Event, event.ID, res)
}

func (app *application) sfuCreateTransportEvent(c *Client, event socketEvent) {
	var input struct {
		RoomToken string `json:"roomToken"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" {
		c.replyError(event.Event, event.ID, "roomToken is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	info, err := app.sfu.CreateTransport(ctx, input.RoomToken, c.id)
	if err != nil {
		c.replyError(event.Event, event.ID, sfuErrorMessage(err))
		return
	}
	c.reply(event.Event, event.ID, info)
}

func (app *application) sfuConnectTransportEvent(c *Client, event socketEvent) {
	var input struct {
		RoomToken      string          `json:"roomToken"`
		TransportID    string          `json:"transportId"`
		DTLSParameters json.RawMessage `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" || input.TransportID == "" {
		c.replyError(event.Event, event.ID, "roomToken and transportId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	reply, err := app.sfu.ConnectTransport(ctx, input.RoomToken, c.id, input.TransportID, input.DTLSParameters)
	if err != nil {
		c.replyError(event.Event, event.ID, sfuErrorMessage(err))
		return
	}
	c.reply(event.Event, event.ID, json.RawMessage(reply))
}

func (app *application) sfuProduceEvent(c *Client, event socketEvent) {
	var input struct {
		RoomToken     string          `json:"roomToken"`
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" || input.TransportID == "" {
		c.replyError(event.Event, event.ID, "roomToken and transportId are required")
		return
	}
	if input.Kind != "audio" && input.Kind != "video" {
		c.replyError(event.Event, event.ID, "kind must be audio or video")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	producerID, err := app.sfu.Produce(ctx, input.RoomToken, c.id, input.TransportID, input.Kind, input.RTPParameters)
	if err != nil {
		c.replyError(event.Event, event.ID, sfuErrorMessage(err))
		return
	}
	c.reply(event.Event, event.ID, envelope{"producerId": producerID})
}

func (app *application) sfuConsumeEvent(c *Client, event socketEvent) {
	var input struct {
		RoomToken       string              `json:"roomToken"`
		TransportID     string              `json:"transportId"`
		ProducerID      string              `json:"producerId"`
		RTPCapabilities sfu.RTPCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" || input.TransportID == "" || input.ProducerID == "" {
		c.replyError(event.Event, event.ID, "roomToken, transportId and producerId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	res, err := app.sfu.Consume(ctx, input.RoomToken, c.id, input.TransportID, input.ProducerID, input.RTPCapabilities)
	if err != nil {
		c.replyError(event.Event, event.ID, sfuErrorMessage(err))
		return
	}
	c.reply(event.Event, event.ID, res)
}

func (app *application) sfuResumeConsumerEvent(c *Client, event socketEvent) {
	var input struct {
		RoomToken  string `json:"roomToken"`
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" || input.ConsumerID == "" {
		c.replyError(event.Event, event.ID, "roomToken and consumerId are required")
		return
	}

	if err := app.sfu.ResumeConsumer(input.RoomToken, c.id, input.ConsumerID); err != nil {
		c.replyError(event.Event, event.ID, sfuErrorMessage(err))
		return
	}
	c.reply(event.Event, event.ID, nil)
}

func (app *application) sfuToggleProducerEvent(c *Client, event socketEvent, pause bool) {
	var input struct {
		RoomToken  string `json:"roomToken"`
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(event.Data, &input); err != nil || input.RoomToken == "" || input.ProducerID == "" {
		c.replyError(event.Event, event.ID, "roomToken and producerId are required")
		return
	}

	var err error
	if pause {
		err = app.sfu.PauseProducer(input.RoomToken, c.id, input.ProducerID)
	} else {
		err = app.sfu.ResumeProducer(input.RoomToken, c.id, input.ProducerID)
	}
	if err != nil {
		c.replyError(event.Event, event.ID, sfuErrorMessage(err))
		return
	}
	c.reply(event.Event, event.ID, nil)
}

// sfuErrorMessage keeps the expected coordinator failures readable for the
// client and hides everything else behind a generic message.
func sfuErrorMessage(err error) string {
	switch {
	case errors.Is(err, sfu.ErrRoomNotFound),
		errors.Is(err, sfu.ErrPeerNotFound),
		errors.Is(err, sfu.ErrTransportNotFound),
		errors.Is(err, sfu.ErrProducerNotFound),
		errors.Is(err, sfu.ErrConsumerNotFound),
		errors.Is(err, sfu.ErrIncompatibleCapabilities):
		return err.Error()
	default:
		return "internal error"
	}
}
