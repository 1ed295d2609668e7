package dapserver

import (
	"encoding/json"

	"go.uber.org/zap"
)

// cdpTrafficHandler is the protocol-translation hook handed to the proxy.
// Traffic passes through unmodified; CDP method names are surfaced at debug
// level for diagnostics.
type cdpTrafficHandler struct {
	log *zap.Logger
}

func newCDPTrafficHandler(log *zap.Logger) *cdpTrafficHandler {
	return &cdpTrafficHandler{log: log}
}

// cdpEnvelope is the subset of a CDP message needed for logging.
type cdpEnvelope struct {
	ID     int    `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
}

func (h *cdpTrafficHandler) FromHost(msg []byte) []byte {
	h.trace("host->target", msg)
	return msg
}

func (h *cdpTrafficHandler) FromTarget(msg []byte) []byte {
	h.trace("target->host", msg)
	return msg
}

func (h *cdpTrafficHandler) trace(direction string, msg []byte) {
	if !h.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	var env cdpEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}
	h.log.Debug("cdp message",
		zap.String("direction", direction),
		zap.String("method", env.Method),
		zap.Int("id", env.ID))
}
