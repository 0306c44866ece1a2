package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

// newAck builds the single acknowledgement for cmd.
func newAck(cmd models.Command, res models.Result, err error) models.Ack {
	ack := models.Ack{
		Type:      models.EventAck,
		RequestID: cmd.RequestID,
		Command:   cmd.Type,
		OK:        err == nil,
		Result:    res,
	}
	if err != nil {
		ack.Type = models.EventError
		ack.Code = string(lobby.KindOf(err))
		ack.Message = err.Error()
	}
	return ack
}

func invalid(msg string) error {
	return &lobby.Error{Kind: lobby.KindInvalidRequest, Msg: msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
