package web

import (
	"time"

	"github.com/asheshgoplani/clutch/internal/activity"
	"github.com/asheshgoplani/clutch/internal/session"
)

// Client message types.
const (
	MsgCreate  = "create"
	MsgRestart = "restart"
	MsgDestroy = "destroy"
	MsgInput   = "input"
	MsgResize  = "resize"
	MsgPing    = "ping"
)

// Server message types. data, exit and activity mirror session.EventType.
const (
	MsgData     = "data"
	MsgExit     = "exit"
	MsgActivity = "activity"
	MsgAck      = "ack"
	MsgError    = "error"
	MsgStatus   = "status"
)

// ClientMessage is a JSON frame sent by a client over /ws.
type ClientMessage struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Data       string `json:"data,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
	WorkingDir string `json:"workingDir,omitempty"`
	Command    string `json:"command,omitempty"`
}

// ServerMessage is a JSON frame sent by the server over /ws.
type ServerMessage struct {
	Type         string         `json:"type"`
	Event        string         `json:"event,omitempty"`
	Code         string         `json:"code,omitempty"`
	Message      string         `json:"message,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Data         string         `json:"data,omitempty"`
	Activity     activity.State `json:"activity,omitempty"`
	Time         time.Time      `json:"time,omitempty"`
}

func eventMessage(ev session.Event) ServerMessage {
	msg := ServerMessage{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Time:      ev.Time.UTC(),
	}
	switch ev.Type {
	case session.EventData:
		msg.Data = ev.Data
	case session.EventActivity:
		msg.Activity = ev.Activity
	}
	return msg
}
