package httpapi

import (
	"net/http"
	"strings"
	"time"

	"voice-console/internal/calls"
	"voice-console/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamPingInterval = 30 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamBuffer       = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The console is served from the same origin; the access token is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type dialRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
}

type digitsRequest struct {
	Digits string `json:"digits"`
}

func (h Handlers) GetCall(c *gin.Context) {
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) InitializeDevice(c *gin.Context) {
	if err := h.Calls.Initialize(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

// Dial places an outbound call. Without an explicit from, the selected
// inventory number is used.
func (h Handlers) Dial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	from := strings.TrimSpace(req.From)
	if from == "" && h.Numbers != nil {
		if n, ok := h.Numbers.Selected(); ok {
			from = n.E164Number
		}
	}
	if err := h.Calls.Dial(c.Request.Context(), req.To, from); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) Answer(c *gin.Context) {
	if err := h.Calls.Answer(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) Reject(c *gin.Context) {
	h.Calls.Reject()
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) EndCall(c *gin.Context) {
	h.Calls.EndCall()
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) ToggleMute(c *gin.Context) {
	h.Calls.ToggleMute()
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) ToggleHold(c *gin.Context) {
	h.Calls.ToggleHold()
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) SendDigits(c *gin.Context) {
	var req digitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Calls.SendDigit(req.Digits); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

func (h Handlers) Dismiss(c *gin.Context) {
	h.Calls.Dismiss()
	c.JSON(http.StatusOK, h.Calls.Snapshot())
}

// StreamCall pushes a snapshot on every controller change. Slow readers lose
// intermediate snapshots, never the latest one.
func (h Handlers) StreamCall(c *gin.Context) {
	log := logger.FromGin(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("call stream upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	updates := make(chan calls.Snapshot, streamBuffer)
	push := func(s calls.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	push(h.Calls.Snapshot())
	cancel := h.Calls.Subscribe(push)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(streamReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(streamReadTimeout))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case s := <-updates:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteJSON(s); err != nil {
				log.Debug("call stream write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// AttachDevice serves the voice widget connection for the bridge device.
func (h Handlers) AttachDevice(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "device bridge not configured"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("device bridge upgrade failed", "err", err)
		return
	}
	log.Info("device widget attached")
	if err := h.Bridge.Attach(ws); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn("device widget detached", "err", err)
		return
	}
	log.Info("device widget detached")
}
