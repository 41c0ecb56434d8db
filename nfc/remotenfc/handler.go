package remotenfc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfcv-agent/protocol"
	"go.uber.org/zap"
)

// Handler accepts WebSocket connections from remote readers.
type Handler struct {
	manager    *Manager
	upgrader   websocket.Upgrader
	serverInfo protocol.ServerInfo
	logger     *zap.Logger
}

// NewHandler creates a handler registering remotes with manager.
func NewHandler(manager *Manager, info protocol.ServerInfo, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(info.Technologies) == 0 {
		info.Technologies = []string{"NfcV"}
	}
	return &Handler{
		manager:    manager,
		serverInfo: info,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// ServeHTTP upgrades the connection, waits for register, then reads until the remote
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("remote connected", zap.String("addr", r.RemoteAddr))

	var first protocol.Message
	if err := conn.ReadJSON(&first); err != nil {
		h.logger.Debug("failed to read registration message", zap.Error(err))
		writeError(conn, "", protocol.ErrCodeInvalidMessage, "invalid message format")
		return
	}
	if first.Type != protocol.TypeRegister {
		writeError(conn, first.ID, protocol.ErrCodeNotRegistered, fmt.Sprintf("expected '%s' message", protocol.TypeRegister))
		return
	}

	var req protocol.RegisterPayload
	if err := first.Decode(&req); err != nil {
		writeError(conn, first.ID, protocol.ErrCodeInvalidPayload, err.Error())
		return
	}

	device, err := h.manager.RegisterDevice(req, conn)
	if err != nil {
		writeError(conn, first.ID, protocol.ErrCodeInvalidPayload, err.Error())
		return
	}
	defer h.manager.UnregisterDevice(device.ID())

	ack, err := protocol.NewMessage(first.ID, protocol.TypeRegistered, protocol.RegisteredPayload{
		DeviceID:   device.ID(),
		ServerInfo: h.serverInfo,
	})
	if err == nil {
		err = device.send(ack)
	}
	if err != nil {
		h.logger.Warn("failed to acknowledge registration", zap.Error(err))
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("remote read error", zap.String("remote", device.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			device.sendError("", protocol.ErrCodeInvalidMessage, "invalid message format")
			continue
		}
		if err := device.handleMessage(msg); err != nil {
			h.logger.Debug("rejected remote message", zap.String("type", msg.Type), zap.Error(err))
			code := protocol.ErrCodeInvalidPayload
			if !isKnownType(msg.Type) {
				code = protocol.ErrCodeUnknownType
			}
			device.sendError(msg.ID, code, err.Error())
		}
	}
}

// writeError answers a connection that has no registered device yet.
func writeError(conn *websocket.Conn, id, code, message string) {
	msg, err := protocol.NewMessage(id, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = conn.WriteJSON(msg)
}

func isKnownType(t string) bool {
	switch t {
	case protocol.TypeHeartbeat, protocol.TypeTagDetected, protocol.TypeTagRemoved,
		protocol.TypeResponse, protocol.TypeError:
		return true
	}
	return false
}
